// Package orchestrator turns an evaluation into the loop's next step.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"healthloop/domain/core"
	"healthloop/domain/evidence"
	"healthloop/domain/experiment"
)

// Config holds the decision thresholds
type Config struct {
	DecisiveConf  float64 `validate:"gt=0,lte=1"`
	MaxExtensions int     `validate:"gte=0"`
	ExtensionDays int     `validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{DecisiveConf: experiment.MinHelpfulConfidence, MaxExtensions: 2, ExtensionDays: 7}
}

// AdjustNarrator phrases an adjustment proposal. Its output is validated
// against the claim policy before use.
type AdjustNarrator func(exp experiment.Experiment, eval experiment.EvaluationResult) string

// Orchestrator decides the next step for an experiment
type Orchestrator struct {
	cfg      Config
	narrator AdjustNarrator
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithNarrator replaces the default adjustment phrasing
func WithNarrator(n AdjustNarrator) Option {
	return func(o *Orchestrator) { o.narrator = n }
}

func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, narrator: DefaultNarrator}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Config() Config { return o.cfg }

// Decide picks continue, stop, extend or adjust. An adjust opens another
// intervention round, so it is only offered while extensions remain.
func (o *Orchestrator) Decide(exp experiment.Experiment, eval *experiment.EvaluationResult) (experiment.LoopDecision, error) {
	if eval == nil {
		return experiment.LoopDecision{}, core.ErrMissingEvaluation
	}
	if err := eval.Validate(); err != nil {
		return experiment.LoopDecision{}, err
	}

	label := ""
	if exp.Extensions < o.cfg.MaxExtensions && o.wantsAdjust(eval) {
		text := o.narrator(exp, *eval)
		err := evidence.Validate(text, eval.Grade)
		if err == nil {
			return experiment.NewLoopDecision(eval, experiment.ActionAdjust, "", text, exp.Extensions)
		}
		var v *evidence.ClaimViolation
		if !errors.As(err, &v) {
			return experiment.LoopDecision{}, err
		}
		label = experiment.LabelAdjustRejected
	}

	metric := humanize(exp.OutcomeMetric)
	decisive := eval.Confidence >= o.cfg.DecisiveConf
	switch {
	case eval.Verdict == experiment.VerdictHelpful && decisive:
		return o.decision(eval, experiment.ActionContinue, label,
			fmt.Sprintf("Continue the intervention; the evaluation of %s was favourable", metric), exp.Extensions)
	case eval.Verdict == experiment.VerdictNotHelpful && decisive:
		return o.decision(eval, experiment.ActionStop, label,
			fmt.Sprintf("Stop the intervention; no benefit to %s was found", metric), exp.Extensions)
	case exp.Extensions < o.cfg.MaxExtensions:
		return o.decision(eval, experiment.ActionExtend, label,
			fmt.Sprintf("Extend the intervention by %d days to collect more %s data", o.cfg.ExtensionDays, metric), exp.Extensions)
	default:
		if label == "" {
			label = experiment.LabelInconclusive
		}
		return o.decision(eval, experiment.ActionStop, label,
			fmt.Sprintf("Stop after %d extensions; the effect on %s remains unclear", exp.Extensions, metric), exp.Extensions)
	}
}

func (o *Orchestrator) wantsAdjust(eval *experiment.EvaluationResult) bool {
	if eval.Note == nil {
		return false
	}
	switch eval.Verdict {
	case experiment.VerdictHelpful:
		return eval.Note.BetterLag
	case experiment.VerdictUnclear:
		return len(eval.Note.Confounders) > 0
	default:
		return false
	}
}

// decision appends the grade's disclosure so template rationales always
// carry the hedge their grade requires
func (o *Orchestrator) decision(eval *experiment.EvaluationResult, action experiment.Action, label, rationale string, extensions int) (experiment.LoopDecision, error) {
	policy := evidence.PolicyFor(eval.Grade)
	if policy.RequiresDisclosure {
		rationale += " " + policy.Disclosure
	}
	if err := evidence.Validate(rationale, eval.Grade); err != nil {
		return experiment.LoopDecision{}, fmt.Errorf("decision rationale failed claim policy: %w", err)
	}
	return experiment.NewLoopDecision(eval, action, label, rationale, extensions)
}

// DefaultNarrator phrases adjustments tentatively, which every grade allows
func DefaultNarrator(exp experiment.Experiment, eval experiment.EvaluationResult) string {
	intervention := humanize(core.MetricKey(exp.InterventionKey))
	metric := humanize(exp.OutcomeMetric)
	note := eval.Note

	var b strings.Builder
	if note.BetterLag {
		fmt.Fprintf(&b, "The effect of %s on %s might show up %d day(s) later; consider shifting the timing", intervention, metric, note.BestLag)
	} else {
		names := make([]string, len(note.Confounders))
		for i, c := range note.Confounders {
			names[i] = humanize(core.MetricKey(c))
		}
		fmt.Fprintf(&b, "Changes in %s could be linked to %s as well; consider holding those steady", metric, strings.Join(names, ", "))
	}
	if p := evidence.PolicyFor(eval.Grade); p.RequiresDisclosure {
		b.WriteString(" " + p.Disclosure)
	}
	return b.String()
}

func humanize(k core.MetricKey) string {
	return strings.ReplaceAll(k.String(), "_", " ")
}
