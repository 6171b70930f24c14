package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/codearena/environment"
	"github.com/isdmx/codearena/extract"
	"github.com/isdmx/codearena/sandbox"
)

// ErrEnvironmentRequired is returned when a side is enabled without an
// environment.
var ErrEnvironmentRequired = errors.New("sandbox environment is required when the sandbox is enabled")

// Runner dispatches code to a sandbox environment
type Runner interface {
	CheckCredential() error
	Dispatch(ctx context.Context, tag environment.Tag, job sandbox.Job) (sandbox.Result, error)
}

// Extractor pulls runnable code out of a chat message
type Extractor interface {
	Extract(ctx context.Context, message string, auto bool) (extract.Result, bool)
}

// Side is the sandbox of one conversation side. Its mutex guards the state
// only; it is never held across a dispatch or a yield.
type Side struct {
	logger    *zap.Logger
	runner    Runner
	extractor Extractor

	mu    sync.Mutex
	state State
}

// NewSide creates an unconfigured side
func NewSide(logger *zap.Logger, runner Runner, extractor Extractor) *Side {
	return &Side{
		logger:    logger,
		runner:    runner,
		extractor: extractor,
	}
}

// State returns a snapshot of the side's state.
func (s *Side) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configure enables or disables the sandbox and picks its environment,
// deriving the instruction from the environment. It is a no-op once the
// configuration is locked.
func (s *Side) Configure(enabled bool, env environment.Tag) (State, error) {
	if env != environment.None && !env.Valid() {
		return s.State(), fmt.Errorf("unknown sandbox environment: %q", env)
	}
	if enabled && env == environment.None {
		return s.State(), ErrEnvironmentRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Locked() {
		s.logger.Debug("configuration locked, ignoring configure",
			zap.Int("locked_after_round", s.state.ConfigLockedAfterRound))
		return s.state, nil
	}

	s.state.Enabled = enabled
	s.state.Environment = env
	s.state.Instruction = environment.Instruction(env)
	return s.state, nil
}

// OverrideInstruction replaces the instruction with a custom system prompt.
// It is a no-op once the configuration is locked.
func (s *Side) OverrideInstruction(text string) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Locked() {
		s.state.Instruction = text
	}
	return s.state
}

// ApplyInstruction appends the instruction to systemPrompt on the first round
// of an enabled side and locks the configuration. Later calls return
// systemPrompt unchanged.
func (s *Side) ApplyInstruction(systemPrompt string) (string, State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Enabled || s.state.Locked() {
		return systemPrompt, s.state
	}
	s.state.ConfigLockedAfterRound++

	switch {
	case s.state.Instruction == "":
		return systemPrompt, s.state
	case systemPrompt == "":
		return s.state.Instruction, s.state
	default:
		return systemPrompt + "\n\n" + s.state.Instruction, s.state
	}
}

// Reset unlocks the configuration for a new conversation.
func (s *Side) Reset() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ConfigLockedAfterRound = 0
	return s.state
}

// Edit runs code typed into the sandbox editor. Nothing happens when the side
// is disabled, the code is blank or it equals the pending code. Work starts
// when the sequence is iterated.
func (s *Side) Edit(ctx context.Context, code string) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		s.mu.Lock()
		if !s.state.Enabled || strings.TrimSpace(code) == "" || code == s.state.PendingCode {
			s.mu.Unlock()
			return
		}
		s.state.PendingCode = code
		snapshot := s.state
		s.mu.Unlock()

		s.run(ctx, snapshot, yield)
	}
}

// MessageRun extracts the code of a chat message and runs it. Nothing
// happens when the side is disabled, extraction fails or the extracted code,
// language and dependencies equal the pending ones. Work starts when the
// sequence is iterated.
func (s *Side) MessageRun(ctx context.Context, message string) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		s.mu.Lock()
		enabled, auto := s.state.Enabled, s.state.Environment == environment.Auto
		s.mu.Unlock()
		if !enabled {
			return
		}

		res, ok := s.extractor.Extract(ctx, extract.StripRunMarker(message), auto)
		if !ok {
			return
		}

		language := NormalizeLanguage(res.Language)
		if language == "" {
			switch res.Environment {
			case environment.HTML:
				language = "html"
			case environment.Vue:
				language = "vue"
			}
		}

		s.mu.Lock()
		if res.Code == s.state.PendingCode &&
			language == s.state.PendingLanguage &&
			res.Dependencies.Equal(s.state.PendingDependencies) {
			s.mu.Unlock()
			return
		}

		s.state.PendingCode = res.Code
		s.state.PendingLanguage = language
		s.state.PendingDependencies = res.Dependencies
		if s.state.Environment == environment.Auto {
			s.state.AutoDetectedEnvironment = res.Environment
		}
		snapshot := s.state
		s.mu.Unlock()

		s.run(ctx, snapshot, yield)
	}
}

// run dispatches the pending code of snapshot, yielding a loading frame and
// then the result frame.
func (s *Side) run(ctx context.Context, snapshot State, yield func(Update, error) bool) {
	if !snapshot.Enabled {
		return
	}
	if err := s.runner.CheckCredential(); err != nil {
		yield(Update{State: snapshot}, err)
		return
	}
	if snapshot.PendingCode == "" || snapshot.PendingLanguage == "" {
		return
	}

	code, language := snapshot.PendingCode, NormalizeLanguage(snapshot.PendingLanguage)
	loading := Update{
		State: snapshot,
		View: View{
			Status: StatusLoading,
			Code:   &CodeEcho{Code: code, Language: highlightLanguage(language)},
		},
	}
	if !yield(loading, nil) {
		return
	}

	env := snapshot.EffectiveEnvironment()
	result, err := s.runner.Dispatch(ctx, env, sandbox.Job{
		Code:         code,
		Language:     language,
		Dependencies: snapshot.PendingDependencies,
	})
	current := s.State()

	if err != nil {
		if errors.Is(err, sandbox.ErrUnsupportedEnvironment) || errors.Is(err, sandbox.ErrMissingCredential) {
			yield(Update{State: current}, err)
			return
		}
		s.logger.Warn("sandbox run failed", zap.String("environment", env.String()), zap.Error(err))
		yield(Update{State: current, View: View{Status: errorStatus(err)}}, nil)
		return
	}

	if result.Kind() == sandbox.KindServed {
		yield(Update{
			State: current,
			View: View{
				Status: StatusRunning,
				Served: &ServedView{URL: result.URL(), Code: code},
			},
		}, nil)
		return
	}
	yield(Update{State: current, View: View{Status: result.Text()}}, nil)
}
