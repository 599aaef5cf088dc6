// Package parser turns XML workflow definitions into ordered step and routing
// declarations, and evaluates routing conditions against a document context.
package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
)

// Trigger mirrors the three routing declaration tags.
type Trigger string

const (
	TriggerOnApprove Trigger = "ON_APPROVE"
	TriggerOnReject  Trigger = "ON_REJECT"
	TriggerOnTimeout Trigger = "ON_TIMEOUT"
)

// Step is one parsed step declaration.
type Step struct {
	Order       int
	RoleName    string
	RoleLevel   int
	Action      string
	Parallel    bool
	Description string
}

// Rule is one parsed routing declaration. TargetStep == nil (absent attribute
// or the literal "null") means "terminate the workflow" when the rule fires.
type Rule struct {
	StepOrder   int
	Trigger     Trigger
	TargetStep  *int
	Condition   string
	Description string
}

// WorkflowDefinition is the parsed form of one workflow template: steps
// sorted ascending by order plus the routing rules.
type WorkflowDefinition struct {
	Steps []Step
	Rules []Rule
}

// StepGroups returns the distinct step orders ascending. Steps sharing an
// order form a parallel group.
func (d *WorkflowDefinition) StepGroups() []int {
	seen := make(map[int]struct{})
	var orders []int
	for _, s := range d.Steps {
		if _, ok := seen[s.Order]; !ok {
			seen[s.Order] = struct{}{}
			orders = append(orders, s.Order)
		}
	}
	sort.Ints(orders)
	return orders
}

// StepsAt returns the steps belonging to one group.
func (d *WorkflowDefinition) StepsAt(order int) []Step {
	var out []Step
	for _, s := range d.Steps {
		if s.Order == order {
			out = append(out, s)
		}
	}
	return out
}

type xmlStep struct {
	Order       string `xml:"order,attr"`
	RoleName    string `xml:"roleName,attr"`
	RoleLevel   string `xml:"roleLevel,attr"`
	Action      string `xml:"action,attr"`
	Parallel    string `xml:"parallel,attr"`
	Description string `xml:"description,attr"`
}

type xmlRule struct {
	StepOrder   string `xml:"stepOrder,attr"`
	TargetStep  string `xml:"targetStep,attr"`
	Condition   string `xml:"condition,attr"`
	Description string `xml:"description,attr"`
}

type xmlWorkflow struct {
	XMLName   xml.Name  `xml:"workflow"`
	Steps     []xmlStep `xml:"step"`
	OnApprove []xmlRule `xml:"onApprove"`
	OnReject  []xmlRule `xml:"onReject"`
	OnTimeout []xmlRule `xml:"onTimeout"`
}

// ParseDefinition parses and validates a workflow definition.
//
// Returns a validation-coded error when the XML is malformed, when a step
// attribute is out of range, when two routing rules share the same
// (stepOrder, trigger) key, or when a routing rule references a step order
// that does not exist. DOCTYPE declarations are rejected outright; the
// decoder never resolves external entities.
func ParseDefinition(xmlContent string) (*WorkflowDefinition, error) {
	if strings.TrimSpace(xmlContent) == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "workflow definition is empty")
	}
	if err := rejectDirectives(xmlContent); err != nil {
		return nil, err
	}

	var doc xmlWorkflow
	if err := xml.Unmarshal([]byte(xmlContent), &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid workflow XML")
	}

	def := &WorkflowDefinition{}

	for i, xs := range doc.Steps {
		step, err := parseStep(xs)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation,
				fmt.Sprintf("step %d", i+1))
		}
		def.Steps = append(def.Steps, step)
	}

	sort.SliceStable(def.Steps, func(i, j int) bool {
		return def.Steps[i].Order < def.Steps[j].Order
	})

	for trigger, rules := range map[Trigger][]xmlRule{
		TriggerOnApprove: doc.OnApprove,
		TriggerOnReject:  doc.OnReject,
		TriggerOnTimeout: doc.OnTimeout,
	} {
		for _, xr := range rules {
			rule, err := parseRule(xr, trigger)
			if err != nil {
				return nil, err
			}
			def.Rules = append(def.Rules, rule)
		}
	}

	if err := validateDefinition(def); err != nil {
		return nil, err
	}
	return def, nil
}

// rejectDirectives scans raw tokens and refuses DOCTYPE/entity declarations.
// The stdlib decoder does not expand external entities, but a definition
// carrying a DOCTYPE is refused rather than silently ignored.
func rejectDirectives(xmlContent string) error {
	dec := xml.NewDecoder(bytes.NewReader([]byte(xmlContent)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid workflow XML")
		}
		if _, ok := tok.(xml.Directive); ok {
			return apperrors.New(apperrors.ErrCodeValidation,
				"workflow XML must not contain DOCTYPE or entity declarations")
		}
	}
}

func parseStep(xs xmlStep) (Step, error) {
	order, err := strconv.Atoi(xs.Order)
	if err != nil {
		return Step{}, apperrors.InvalidInput("order", "must be an integer")
	}
	if order <= 0 {
		return Step{}, apperrors.InvalidInput("order", "must be positive")
	}
	if strings.TrimSpace(xs.RoleName) == "" {
		return Step{}, apperrors.InvalidInput("roleName", "is required")
	}
	level, err := strconv.Atoi(xs.RoleLevel)
	if err != nil || level < 1 || level > 100 {
		return Step{}, apperrors.InvalidInput("roleLevel", "must be between 1 and 100")
	}
	if strings.TrimSpace(xs.Action) == "" {
		return Step{}, apperrors.InvalidInput("action", "is required")
	}

	parallel := false
	if xs.Parallel != "" {
		parallel, err = strconv.ParseBool(xs.Parallel)
		if err != nil {
			return Step{}, apperrors.InvalidInput("parallel", "must be a boolean")
		}
	}

	return Step{
		Order:       order,
		RoleName:    xs.RoleName,
		RoleLevel:   level,
		Action:      xs.Action,
		Parallel:    parallel,
		Description: xs.Description,
	}, nil
}

func parseRule(xr xmlRule, trigger Trigger) (Rule, error) {
	stepOrder, err := strconv.Atoi(xr.StepOrder)
	if err != nil {
		return Rule{}, apperrors.InvalidInput("stepOrder", "must be an integer")
	}

	rule := Rule{
		StepOrder:   stepOrder,
		Trigger:     trigger,
		Condition:   strings.TrimSpace(xr.Condition),
		Description: xr.Description,
	}

	// targetStep absent or "null" means "terminate the workflow".
	if xr.TargetStep != "" && xr.TargetStep != "null" {
		target, err := strconv.Atoi(xr.TargetStep)
		if err != nil {
			return Rule{}, apperrors.InvalidInput("targetStep", "must be an integer or \"null\"")
		}
		rule.TargetStep = &target
	}

	return rule, nil
}

func validateDefinition(def *WorkflowDefinition) error {
	orders := make(map[int]struct{})
	for _, s := range def.Steps {
		orders[s.Order] = struct{}{}
	}

	type ruleKey struct {
		order   int
		trigger Trigger
	}
	seen := make(map[ruleKey]struct{})

	for _, r := range def.Rules {
		if _, ok := orders[r.StepOrder]; !ok {
			return apperrors.Newf(apperrors.ErrCodeValidation,
				"%s rule references unknown step order %d", r.Trigger, r.StepOrder)
		}
		if r.TargetStep != nil {
			if _, ok := orders[*r.TargetStep]; !ok {
				return apperrors.Newf(apperrors.ErrCodeValidation,
					"%s rule for step %d targets unknown step order %d", r.Trigger, r.StepOrder, *r.TargetStep)
			}
		}
		key := ruleKey{order: r.StepOrder, trigger: r.Trigger}
		if _, dup := seen[key]; dup {
			return apperrors.Newf(apperrors.ErrCodeValidation,
				"duplicate %s rule for step %d", r.Trigger, r.StepOrder)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// ExampleDefinitionXML returns a five-step definition with conditional
// routing, used by tests and the template example endpoint.
func ExampleDefinitionXML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<workflow>
    <step order="1" roleName="Manager" roleLevel="60" action="review" parallel="false" description="Initial review"/>
    <step order="2" roleName="Director" roleLevel="80" action="approve" parallel="false" description="Director approval"/>
    <step order="3" roleName="CEO" roleLevel="100" action="sign" parallel="false" description="Final signature"/>
    <step order="4" roleName="Accountant" roleLevel="70" action="verify" parallel="false" description="Final verification"/>
    <step order="5" roleName="Legal" roleLevel="75" action="legal_review" parallel="false" description="Legal review"/>

    <onApprove stepOrder="1" condition="isLowValue" targetStep="3" description="Skip director for low-value documents"/>
    <onReject stepOrder="2" targetStep="1" description="Return to manager if director rejects"/>
    <onApprove stepOrder="3" condition="isContract" targetStep="5" description="Legal review required for contracts"/>
    <onReject stepOrder="4" targetStep="1" description="Return to manager if accountant rejects"/>
    <onReject stepOrder="5" description="Reject workflow if legal rejects"/>
</workflow>`
}

// ExampleParallelDefinitionXML returns a definition with a parallel step
// group at order 2.
func ExampleParallelDefinitionXML() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<workflow>
    <step order="1" roleName="Manager" roleLevel="60" action="review" parallel="false"/>
    <step order="2" roleName="Lawyer" roleLevel="70" action="review" parallel="true"/>
    <step order="2" roleName="Accountant" roleLevel="65" action="review" parallel="true"/>
    <step order="3" roleName="CEO" roleLevel="100" action="sign" parallel="false"/>
</workflow>`
}
