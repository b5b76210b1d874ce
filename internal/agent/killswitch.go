// killswitch.go repurposes the teacher's 8-state graduated circuit
// breaker (internal/risk/circuitbreaker.go: normal/warning/reduced/
// restricted/minimal/halted/cooling_off/emergency) into TradingAgent's
// kill-switch. The spec only requires a binary kill-switch check in
// RiskGatekeeper (#3) and a HALT transition from any state; this keeps
// the teacher's graduated size-multiplier staging as an enrichment
// (exposed through SizeMultiplier) while collapsing the HALT decision
// itself to "drawdown crossed
// kill_switch_pct".
package agent

import (
	"sync"
	"time"

	"github.com/oodatrading/agent/internal/observ"
)

type KillSwitchState string

const (
	KSNormal     KillSwitchState = "normal"
	KSWarning    KillSwitchState = "warning"
	KSReduced    KillSwitchState = "reduced"
	KSRestricted KillSwitchState = "restricted"
	KSHalted     KillSwitchState = "halted"
	KSCoolingOff KillSwitchState = "cooling_off"
)

// KillSwitch tracks drawdown against graduated thresholds and exposes a
// single Tripped() bool for the OODA loop's PERCEPTION check.
type KillSwitch struct {
	mu sync.Mutex

	state          KillSwitchState
	stateEnteredAt time.Time
	sizeMultiplier float64

	killSwitchPct  float64
	coolingOffUntil time.Time
	coolingOffFor  time.Duration

	manualHalt bool
}

func NewKillSwitch(killSwitchPct float64) *KillSwitch {
	if killSwitchPct <= 0 {
		killSwitchPct = 0.08
	}
	return &KillSwitch{
		state:          KSNormal,
		stateEnteredAt: time.Now(),
		sizeMultiplier: 1.0,
		killSwitchPct:  killSwitchPct,
		coolingOffFor:  30 * time.Minute,
	}
}

// Update recomputes graduated state from the current drawdown fraction
// (0.03 == 3% drawdown), called once per PERCEPTION entry.
func (k *KillSwitch) Update(drawdown float64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.manualHalt {
		return
	}

	prev := k.state
	switch {
	case drawdown >= k.killSwitchPct:
		k.state = KSHalted
	case drawdown >= k.killSwitchPct*0.85:
		k.state = KSRestricted
	case drawdown >= k.killSwitchPct*0.6:
		k.state = KSReduced
	case drawdown >= k.killSwitchPct*0.35:
		k.state = KSWarning
	default:
		if k.state == KSHalted || k.state == KSRestricted {
			k.state = KSCoolingOff
			k.coolingOffUntil = time.Now().Add(k.coolingOffFor)
		} else if k.state == KSCoolingOff && time.Now().After(k.coolingOffUntil) {
			k.state = KSNormal
		} else if k.state != KSCoolingOff {
			k.state = KSNormal
		}
	}

	k.sizeMultiplier = sizeMultiplierFor(k.state)

	if k.state != prev {
		observ.Log("kill_switch_state_changed", map[string]any{"from": string(prev), "to": string(k.state), "drawdown": drawdown})
	}
}

func sizeMultiplierFor(s KillSwitchState) float64 {
	switch s {
	case KSNormal:
		return 1.0
	case KSWarning:
		return 1.0
	case KSReduced:
		return 0.7
	case KSRestricted:
		return 0.5
	case KSHalted, KSCoolingOff:
		return 0
	default:
		return 1.0
	}
}

// Tripped reports whether the agent must transition to HALT.
func (k *KillSwitch) Tripped() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state == KSHalted || k.manualHalt
}

func (k *KillSwitch) SizeMultiplier() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sizeMultiplier
}

func (k *KillSwitch) State() KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// EmergencyStop is the manual override exposed on the control surface;
// it latches until explicitly cleared by an operator (Reset).
func (k *KillSwitch) EmergencyStop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.manualHalt = true
	k.state = KSHalted
	k.sizeMultiplier = 0
	observ.Log("kill_switch_manual_halt", nil)
}

func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.manualHalt = false
	k.state = KSNormal
	k.sizeMultiplier = 1.0
}
