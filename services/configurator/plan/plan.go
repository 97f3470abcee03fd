// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan describes a configuration transaction as data.
//
// A plan is an ordered list of operations, written in YAML or JSON:
//
//	name: enable pki
//	operations:
//	  - op: feature.stop
//	    target: catalog-solr
//	  - op: managed.update
//	    target: ddf.platform.config
//	    keep_ignored: true
//	    properties:
//	      port: "8993"
//	  - op: feature.start
//	    target: catalog-solr
//
// Build turns a validated plan into handlers registered on a Configurator,
// in plan order.
package plan

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/cfgadmin/services/configurator/handlers"
)

// Op names one kind of operation.
type Op string

const (
	OpBundleStart    Op = "bundle.start"
	OpBundleStop     Op = "bundle.stop"
	OpFeatureStart   Op = "feature.start"
	OpFeatureStop    Op = "feature.stop"
	OpPropFileCreate Op = "propfile.create"
	OpPropFileUpdate Op = "propfile.update"
	OpPropFileDelete Op = "propfile.delete"
	OpManagedCreate  Op = "managed.create"
	OpManagedUpdate  Op = "managed.update"
	OpManagedDelete  Op = "managed.delete"
)

// Ops lists every supported operation.
var Ops = []Op{
	OpBundleStart, OpBundleStop,
	OpFeatureStart, OpFeatureStop,
	OpPropFileCreate, OpPropFileUpdate, OpPropFileDelete,
	OpManagedCreate, OpManagedUpdate, OpManagedDelete,
}

// ErrInvalidPlan wraps every parse and validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is a named, ordered list of operations. Name becomes the audit
// message of the commit.
type Plan struct {
	Name       string      `yaml:"name" json:"name" validate:"required,max=200"`
	Operations []Operation `yaml:"operations" json:"operations" validate:"required,min=1,max=500,dive"`
}

// Operation is one step of a plan.
//
// # Fields
//
//   - Op: Required. One of Ops.
//   - Target: Bundle or feature name, property file path, or pid.
//     Required for everything except managed.create.
//   - FactoryPid: Required for managed.create.
//   - Properties: Values for create and update operations.
//   - KeepIgnored: For updates, keep existing keys absent from Properties.
type Operation struct {
	Op          Op                `yaml:"op" json:"op" validate:"required,planop"`
	Target      string            `yaml:"target,omitempty" json:"target,omitempty" validate:"required_unless=Op managed.create"`
	FactoryPid  string            `yaml:"factory_pid,omitempty" json:"factory_pid,omitempty" validate:"required_if=Op managed.create"`
	Properties  map[string]string `yaml:"properties,omitempty" json:"properties,omitempty" validate:"omitempty"`
	KeepIgnored bool              `yaml:"keep_ignored,omitempty" json:"keep_ignored,omitempty"`
}

// planValidate carries the custom planop validation.
var planValidate *validator.Validate

func init() {
	planValidate = validator.New()
	planValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = planValidate.RegisterValidation("planop", validatePlanOp)
}

func validatePlanOp(fl validator.FieldLevel) bool {
	return Op(fl.Field().String()).Valid()
}

// Valid reports whether op is one of Ops.
func (op Op) Valid() bool {
	for _, known := range Ops {
		if op == known {
			return true
		}
	}
	return false
}

// Parse decodes a YAML or JSON plan and validates it.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks struct tags and operation-specific rules.
//
// # Outputs
//
//   - error: Wraps ErrInvalidPlan and lists every violation.
func (p *Plan) Validate() error {
	err := planValidate.Struct(p)
	if err == nil {
		return p.validateOps()
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(msgs, "; "))
}

// validateOps applies rules the struct tags cannot express.
func (p *Plan) validateOps() error {
	var msgs []string
	for i, op := range p.Operations {
		switch op.Op {
		case OpBundleStart, OpBundleStop, OpFeatureStart, OpFeatureStop,
			OpPropFileDelete, OpManagedDelete:
			if len(op.Properties) > 0 {
				msgs = append(msgs, fmt.Sprintf("operations[%d]: %s takes no properties", i, op.Op))
			}
		}
		if op.KeepIgnored && op.Op != OpPropFileUpdate && op.Op != OpManagedUpdate {
			msgs = append(msgs, fmt.Sprintf("operations[%d]: keep_ignored only applies to updates", i))
		}
		if _, ok := op.Properties[""]; ok {
			msgs = append(msgs, fmt.Sprintf("operations[%d]: property keys must not be empty", i))
		}
		if op.Op != OpManagedCreate && op.FactoryPid != "" {
			msgs = append(msgs, fmt.Sprintf("operations[%d]: factory_pid only applies to managed.create", i))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(msgs, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Plan.")
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return field + " is required"
	case "planop":
		return fmt.Sprintf("%s: unknown operation %q", field, fe.Value())
	case "min", "max":
		return fmt.Sprintf("%s must have %s=%s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// Build validates p and registers one handler per operation on reg, in
// order.
//
// # Outputs
//
//   - []string: Correlation ids, parallel to p.Operations. On error, the
//     ids registered so far.
//   - error: ErrInvalidPlan, or the registrar's error annotated with the
//     operation index.
//
// # Limitations
//
//   - Handlers registered before an error stay on the Configurator. The
//     caller should discard it.
func Build(p *Plan, reg *handlers.Registrar) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(p.Operations))
	for i, op := range p.Operations {
		id, err := register(reg, op)
		if err != nil {
			return ids, fmt.Errorf("operations[%d] %s %s: %w", i, op.Op, op.Target, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func register(reg *handlers.Registrar, op Operation) (string, error) {
	switch op.Op {
	case OpBundleStart:
		return reg.StartBundle(op.Target)
	case OpBundleStop:
		return reg.StopBundle(op.Target)
	case OpFeatureStart:
		return reg.StartFeature(op.Target)
	case OpFeatureStop:
		return reg.StopFeature(op.Target)
	case OpPropFileCreate:
		return reg.CreatePropertyFile(op.Target, op.Properties)
	case OpPropFileUpdate:
		return reg.UpdatePropertyFile(op.Target, op.Properties, op.KeepIgnored)
	case OpPropFileDelete:
		return reg.DeletePropertyFile(op.Target)
	case OpManagedCreate:
		return reg.CreateManagedService(op.FactoryPid, op.Properties)
	case OpManagedUpdate:
		return reg.UpdateManagedService(op.Target, op.Properties, op.KeepIgnored)
	case OpManagedDelete:
		return reg.DeleteManagedService(op.Target)
	default:
		return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidPlan, op.Op)
	}
}
