package models

import "time"

// BotStatus is the persisted lifecycle status of a Bot record.
type BotStatus string

const (
	// BotStopped means no BotRunner exists for this bot.
	BotStopped BotStatus = "stopped"
	// BotRunning means the bot is actively cycling.
	BotRunning BotStatus = "running"
	// BotPaused means a BotRunner exists but skips cycle work.
	BotPaused BotStatus = "paused"
	// BotError is the terminal status reached after the consecutive-error cap.
	BotError BotStatus = "error"
)

// TradingWindow is a bot-configured time-of-day range, in Eastern Time,
// during which cycles may fire.
type TradingWindow struct {
	StartHour   int `yaml:"start_hour" json:"start_hour"`
	StartMinute int `yaml:"start_minute" json:"start_minute"`
	EndHour     int `yaml:"end_hour" json:"end_hour"`
	EndMinute   int `yaml:"end_minute" json:"end_minute"`
}

func (w TradingWindow) startMinutes() int { return w.StartHour*60 + w.StartMinute }
func (w TradingWindow) endMinutes() int   { return w.EndHour*60 + w.EndMinute }

// Contains reports whether minutesOfDay falls within [start, end].
func (w TradingWindow) Contains(minutesOfDay int) bool {
	return minutesOfDay >= w.startMinutes() && minutesOfDay <= w.endMinutes()
}

// RiskConfig carries a bot's capital and loss-risk constraints.
type RiskConfig struct {
	StopLossPct         float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct       float64 `yaml:"take_profit_pct" json:"take_profit_pct"`
	MaxPositionSizePct  float64 `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxConcurrentPos    int     `yaml:"max_concurrent_positions" json:"max_concurrent_positions"`
}

// IndicatorConfig is one configured indicator: its name and a free-form
// parameter map, validated into a tagged variant by internal/indicators.
type IndicatorConfig struct {
	Name   string                 `yaml:"name" json:"name"`
	Params map[string]interface{} `yaml:"params" json:"params"`
}

// Bot is a user-configured automated trading strategy bound to one owner.
type Bot struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	Name       string            `json:"name"`
	Capital    float64           `json:"capital"`
	PeriodSecs int               `json:"period_secs"`
	Symbols    []string          `json:"symbols"`
	Window     TradingWindow     `json:"window"`
	Indicators []IndicatorConfig `json:"indicators"`
	Risk       RiskConfig        `json:"risk"`

	Status             BotStatus `json:"status"`
	ConsecutiveErrors  int       `json:"consecutive_errors"`
	LastRunAt          time.Time `json:"last_run_at"`
}

// IsActive reports whether the bot currently has (or should have) a runner.
func (b *Bot) IsActive() bool {
	return b.Status == BotRunning || b.Status == BotPaused
}

// BotRunnerState is the in-memory lifecycle state of a BotRunner, distinct
// from the persisted BotStatus (a runner transitions through more states
// than the store needs to know about, e.g. the Stopping handshake).
type BotRunnerState string

const (
	RunnerIdle     BotRunnerState = "idle"
	RunnerRunning  BotRunnerState = "running"
	RunnerPaused   BotRunnerState = "paused"
	RunnerStopping BotRunnerState = "stopping"
	RunnerStopped  BotRunnerState = "stopped"
	RunnerErrored  BotRunnerState = "errored"
)

type runnerTransition struct {
	from, to  BotRunnerState
	condition string
}

var runnerTransitions = []runnerTransition{
	{RunnerIdle, RunnerRunning, "start"},
	{RunnerRunning, RunnerPaused, "pause"},
	{RunnerPaused, RunnerRunning, "resume"},
	{RunnerRunning, RunnerStopping, "stop"},
	{RunnerPaused, RunnerStopping, "stop"},
	{RunnerStopping, RunnerStopped, "exited"},
	{RunnerRunning, RunnerErrored, "error_cap_reached"},
}

var runnerLookup map[BotRunnerState]map[BotRunnerState]map[string]bool

func init() {
	runnerLookup = make(map[BotRunnerState]map[BotRunnerState]map[string]bool)
	for _, t := range runnerTransitions {
		if runnerLookup[t.from] == nil {
			runnerLookup[t.from] = make(map[BotRunnerState]map[string]bool)
		}
		if runnerLookup[t.from][t.to] == nil {
			runnerLookup[t.from][t.to] = make(map[string]bool)
		}
		runnerLookup[t.from][t.to][t.condition] = true
	}
}

// RunnerStateMachine validates BotRunner lifecycle transitions using the
// same precomputed-lookup technique as the trade status state machine.
type RunnerStateMachine struct {
	current BotRunnerState
}

// NewRunnerStateMachine returns a state machine starting at Idle.
func NewRunnerStateMachine() *RunnerStateMachine {
	return &RunnerStateMachine{current: RunnerIdle}
}

// Current returns the current runner state.
func (m *RunnerStateMachine) Current() BotRunnerState { return m.current }

// Transition validates and performs a transition, or returns an error if
// the (from, to, condition) triple is not in the table.
func (m *RunnerStateMachine) Transition(to BotRunnerState, condition string) error {
	if toMap, ok := runnerLookup[m.current]; ok {
		if condMap, ok := toMap[to]; ok {
			if condMap[condition] {
				m.current = to
				return nil
			}
		}
	}
	return &invalidTransitionError{from: string(m.current), to: string(to), condition: condition}
}

type invalidTransitionError struct {
	from, to, condition string
}

func (e *invalidTransitionError) Error() string {
	return "invalid runner transition from " + e.from + " to " + e.to + " on condition " + e.condition
}
