package escrow

import (
	"math/big"
	"testing"

	"github.com/tutu-network/escrow/internal/domain"
)

func TestPayouts_ConserveFunds(t *testing.T) {
	client := domain.MustParseAddress("0x0000000000000000000000000000000000000001")
	agent := domain.MustParseAddress("0x0000000000000000000000000000000000000002")

	task := domain.EmptyTask(7)
	task.Client, task.Agent = client, agent
	task.PaymentToken, task.StakeToken = usdc, stk
	task.PaymentAmount = big.NewInt(1_000_001)
	task.AgentStake = big.NewInt(50)
	task.PaymentDeposited = true

	disputed := task
	disputed.ClientDisputeBond = big.NewInt(10_000)
	escalated := disputed
	escalated.AgentEscalationBond = big.NewInt(20_000)

	tests := []struct {
		name    string
		task    domain.Task
		outcome domain.Outcome
		fee     int64
		want    map[string]int64 // role/token -> amount
	}{
		{"no contest", task, domain.OutcomeAgentWinsNoContest, 25_000, map[string]int64{
			"agent/usdc": 975_001, "agent/stk": 50, "market_maker/usdc": 25_000,
		}},
		{"conceded", disputed, domain.OutcomeClientWinsConcede, 0, map[string]int64{
			"client/usdc": 1_010_001, "client/stk": 50,
		}},
		{"oracle agent", escalated, domain.OutcomeAgentWinsOracle, 0, map[string]int64{
			"agent/usdc": 1_030_001, "agent/stk": 50,
		}},
		{"oracle client", escalated, domain.OutcomeClientWinsOracle, 0, map[string]int64{
			"client/usdc": 1_030_001, "client/stk": 50,
		}},
		{"timeout", task, domain.OutcomeClientWinsTimeout, 0, map[string]int64{
			"client/usdc": 1_000_001, "client/stk": 50,
		}},
		{"cooperative", task, domain.OutcomeCooperativeFailure, 0, map[string]int64{
			"client/usdc": 1_000_001, "agent/stk": 50,
		}},
	}
	names := map[domain.Address]string{usdc: "usdc", stk: "stk"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[string]int64)
			for _, p := range Payouts(tt.task, tt.outcome, big.NewInt(tt.fee), mm) {
				got[p.Role+"/"+names[p.Token]] += p.Amount.Int64()
			}
			if len(got) != len(tt.want) {
				t.Fatalf("payouts = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %d, want %d", k, got[k], v)
				}
			}
		})
	}
}

func TestPayouts_UndepositedTimeout(t *testing.T) {
	task := domain.EmptyTask(1)
	task.PaymentToken, task.StakeToken = usdc, stk
	task.PaymentAmount = big.NewInt(100)
	task.AgentStake = big.NewInt(0)

	if got := Payouts(task, domain.OutcomeClientWinsTimeout, nil, mm); len(got) != 0 {
		t.Errorf("Payouts() = %+v, want none", got)
	}
}
