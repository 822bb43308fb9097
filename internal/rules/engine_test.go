package rules

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestDefaultEngine(t *testing.T) {
	engine, err := NewDefaultEngine()
	if err != nil {
		t.Fatalf("failed to create default engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 3 {
		t.Fatalf("expected 3 built-in rules, got %d", engine.RulesCount())
	}

	ids := []string{}
	for _, r := range engine.GetLoadedRules() {
		ids = append(ids, r.ID)
	}
	want := []string{"high-amount", "unusual-hour", "international"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected rule order %v, got %v", want, ids)
	}
}

func TestLoadRule(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		engine, _ := NewEngine()
		defer engine.Close()

		err := engine.LoadRule(&domain.RuleConfig{
			ID:         "pin-missing",
			Expression: "!is_pin_used && !is_chip_used",
			Tag:        "no card security",
			Enabled:    true,
		})
		if err != nil {
			t.Fatalf("failed to load rule: %v", err)
		}
		if engine.RulesCount() != 1 {
			t.Errorf("expected 1 rule, got %d", engine.RulesCount())
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		engine, _ := NewEngine()
		defer engine.Close()

		err := engine.LoadRule(&domain.RuleConfig{
			ID:         "invalid-rule",
			Expression: "this is not valid CEL !!!",
			Tag:        "broken",
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("NonBoolExpression", func(t *testing.T) {
		engine, _ := NewEngine()
		defer engine.Close()

		err := engine.LoadRule(&domain.RuleConfig{
			ID:         "score-rule",
			Expression: "amount > 1000.0 ? 1.0 : 0.0",
			Tag:        "score",
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for non-bool expression")
		}
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		engine, _ := NewEngine()
		defer engine.Close()

		err := engine.LoadRule(&domain.RuleConfig{
			ID:         "velocity",
			Expression: "velocity_count > 10",
			Tag:        "velocity",
			Enabled:    true,
		})
		if err == nil {
			t.Error("expected error for undeclared variable")
		}
	})

	t.Run("MissingTag", func(t *testing.T) {
		engine, _ := NewEngine()
		defer engine.Close()

		err := engine.LoadRule(&domain.RuleConfig{ID: "untagged", Expression: "true", Enabled: true})
		if err == nil {
			t.Error("expected error for rule without tag")
		}
	})

	t.Run("ReplaceKeepsPosition", func(t *testing.T) {
		engine, _ := NewDefaultEngine()
		defer engine.Close()

		err := engine.LoadRule(&domain.RuleConfig{
			ID:         "high-amount",
			Expression: "amount > 10.0",
			Tag:        domain.TagHighAmount,
			Enabled:    true,
		})
		if err != nil {
			t.Fatalf("failed to replace rule: %v", err)
		}
		if engine.RulesCount() != 3 {
			t.Errorf("expected 3 rules after replace, got %d", engine.RulesCount())
		}
		if engine.GetLoadedRules()[0].Expression != "amount > 10.0" {
			t.Error("replaced rule moved out of first position")
		}
	})
}

func TestLoadRulesSkipsDisabled(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	configs := BuiltinRules()
	configs[1].Enabled = false

	if err := engine.LoadRules(configs); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules, got %d", engine.RulesCount())
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	if err := engine.ValidateRule(nil); err == nil {
		t.Error("expected error for nil rule")
	}
	if err := engine.ValidateRule(BuiltinRules()[0]); err != nil {
		t.Errorf("expected built-in rule to validate, got %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Error("ValidateRule must not load the rule")
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewDefaultEngine()
	defer engine.Close()

	err := engine.ReloadRules([]*domain.RuleConfig{
		{ID: "merchant", Expression: `merchant == "Travel"`, Tag: "travel", Enabled: true},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule after reload, got %d", engine.RulesCount())
	}

	// A failed reload leaves the previous set in place.
	err = engine.ReloadRules([]*domain.RuleConfig{
		{ID: "bad", Expression: "amount +", Tag: "bad", Enabled: true},
	})
	if err == nil {
		t.Error("expected reload error")
	}
	if engine.RulesCount() != 1 {
		t.Errorf("expected previous rule set kept, got %d rules", engine.RulesCount())
	}
}

func TestEvaluateBuiltinRules(t *testing.T) {
	engine, _ := NewDefaultEngine()
	defer engine.Close()

	cases := []struct {
		name string
		tx   domain.TransactionInput
		tags []string
	}{
		{"Quiet", domain.TransactionInput{Amount: 500, HourOfDay: 14}, []string{}},
		{"HighAmount", domain.TransactionInput{Amount: 60000, HourOfDay: 14}, []string{"high amount"}},
		{"AmountBoundary", domain.TransactionInput{Amount: 50000, HourOfDay: 14}, []string{}},
		{"EarlyHour", domain.TransactionInput{Amount: 500, HourOfDay: 5}, []string{"strange time"}},
		{"HourSixIsNormal", domain.TransactionInput{Amount: 500, HourOfDay: 6}, []string{}},
		{"HourTwentyTwoIsNormal", domain.TransactionInput{Amount: 500, HourOfDay: 22}, []string{}},
		{"LateHour", domain.TransactionInput{Amount: 500, HourOfDay: 23}, []string{"strange time"}},
		{"International", domain.TransactionInput{Amount: 500, HourOfDay: 14, IsInternational: true}, []string{"international"}},
		{
			"AllThree",
			domain.TransactionInput{Amount: 60000, HourOfDay: 3, IsInternational: true},
			[]string{"high amount", "strange time", "international"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := engine.Evaluate(&tc.tx)
			if err != nil {
				t.Fatalf("evaluate failed: %v", err)
			}
			if !reflect.DeepEqual(f.Tags(), tc.tags) {
				t.Errorf("expected tags %v, got %v", tc.tags, f.Tags())
			}
			if f.Empty() != (len(tc.tags) == 0) {
				t.Errorf("Empty() = %v for tags %v", f.Empty(), tc.tags)
			}
		})
	}
}

func TestEvaluateRuntimeErrorKeepsFinding(t *testing.T) {
	engine, _ := NewDefaultEngine()
	defer engine.Close()

	// Compiles, but overflows int64 for large amounts.
	err := engine.LoadRule(&domain.RuleConfig{
		ID:         "overflow",
		Expression: "int(amount * 1e15) > 0",
		Tag:        "overflow",
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := &domain.TransactionInput{Amount: 60000, HourOfDay: 3, IsInternational: true}
	f, err := engine.Evaluate(tx)
	if err == nil {
		t.Fatal("expected runtime evaluation error")
	}
	want := []string{"high amount", "strange time", "international"}
	if !reflect.DeepEqual(f.Tags(), want) {
		t.Errorf("expected tags %v alongside the error, got %v", want, f.Tags())
	}
}

func TestFindingMessages(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		f := NewFinding()
		if f.Message() != "(no suspicious rules triggered)" {
			t.Errorf("unexpected message %q", f.Message())
		}
		if f.Warning() != "(normal)" {
			t.Errorf("unexpected warning %q", f.Warning())
		}
	})

	t.Run("Joined", func(t *testing.T) {
		f := NewFinding("high amount", "international")
		if f.Message() != "⚠ Suspicious pattern: high amount / international" {
			t.Errorf("unexpected message %q", f.Message())
		}
		if f.Warning() != "high amount / international" {
			t.Errorf("unexpected warning %q", f.Warning())
		}
	})

	t.Run("TagsAreCopied", func(t *testing.T) {
		f := NewFinding("strange time")
		f.Tags()[0] = "changed"
		if f.Tags()[0] != "strange time" {
			t.Error("finding mutated through Tags()")
		}
	})
}

func TestConcurrentEvaluate(t *testing.T) {
	engine, _ := NewDefaultEngine()
	defer engine.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := &domain.TransactionInput{Amount: float64(i * 2000), HourOfDay: i % 24}
			if _, err := engine.Evaluate(tx); err != nil {
				errs <- err
			}
			if i%10 == 0 {
				_ = engine.LoadRule(&domain.RuleConfig{
					ID:         fmt.Sprintf("extra-%d", i),
					Expression: "distance > 100.0",
					Tag:        "far from home",
					Enabled:    true,
				})
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent evaluate failed: %v", err)
	}
}

// TestEvaluateIsDeterministic verifies the same input always fires the same tags.
func TestEvaluateIsDeterministic(t *testing.T) {
	engine, _ := NewDefaultEngine()
	defer engine.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Evaluate is deterministic and ordered", prop.ForAll(
		func(amount float64, hour int, intl bool) bool {
			tx := &domain.TransactionInput{Amount: amount, HourOfDay: hour, IsInternational: intl}
			a, err := engine.Evaluate(tx)
			if err != nil {
				return false
			}
			b, _ := engine.Evaluate(tx)
			if !reflect.DeepEqual(a.Tags(), b.Tags()) {
				return false
			}

			want := []string{}
			if amount > 50000 {
				want = append(want, domain.TagHighAmount)
			}
			if hour < 6 || hour > 22 {
				want = append(want, domain.TagStrangeTime)
			}
			if intl {
				want = append(want, domain.TagInternational)
			}
			return reflect.DeepEqual(a.Tags(), want)
		},
		gen.Float64Range(0, 200000),
		gen.IntRange(0, 23),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
