package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tutu-network/escrow/internal/daemon"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/infra/sqlite"
	"github.com/tutu-network/escrow/internal/security"
)

// openDaemon opens the node without serving. Callers must Close it.
var openDaemon = daemon.New

// stdout is swapped out by tests.
var stdout io.Writer = os.Stdout

// keys loads every key named in --from.
func keys(d *daemon.Daemon) ([]*security.Keypair, error) {
	var out []*security.Keypair
	for _, name := range strings.Split(fromFlag, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		kp, err := security.LoadOrCreateKeypair(d.Home, name)
		if err != nil {
			return nil, fmt.Errorf("load key %q: %w", name, err)
		}
		out = append(out, kp)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--from names no key")
	}
	return out, nil
}

// caller resolves who this invocation acts as. With --as, the --from keys
// must satisfy the wallet's signature policy, checked the same way the API
// checks a signed request.
func caller(ctx context.Context, d *daemon.Daemon) (domain.Address, error) {
	kps, err := keys(d)
	if err != nil {
		return domain.ZeroAddress, err
	}
	if asFlag == "" {
		if len(kps) != 1 {
			return domain.ZeroAddress, fmt.Errorf("--from names %d keys; use --as for a wallet", len(kps))
		}
		return kps[0].Address(), nil
	}

	wallet, err := domain.ParseAddress(asFlag)
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("--as: %w", err)
	}
	challenge := security.Keccak256([]byte("escrow-cli"), wallet[:], security.Uint256(uint64(time.Now().UnixNano())))
	var sig []byte
	for _, kp := range kps {
		sig = append(sig, kp.SignMessage(challenge)...)
	}
	var ok bool
	err = d.DB.View(ctx, func(tx *sqlite.Tx) error {
		var err error
		ok, err = security.NewVerifier(tx).VerifyMessage(wallet, challenge, sig)
		return err
	})
	if err != nil {
		return domain.ZeroAddress, err
	}
	if !ok {
		return domain.ZeroAddress, fmt.Errorf("%w: keys %s cannot sign for %s", domain.ErrUnauthorized, fromFlag, wallet)
	}
	return wallet, nil
}

func parseTaskID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

// ─── Output ─────────────────────────────────────────────────────────────────

// printValue writes v as JSON or YAML, or calls text for the default format.
func printValue(v any, text func(w io.Writer) error) error {
	switch outputFlag {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		out, err := toYAML(v)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	case "text", "":
		if text == nil {
			out, err := toYAML(v)
			if err != nil {
				return err
			}
			_, err = stdout.Write(out)
			return err
		}
		return text(stdout)
	default:
		return fmt.Errorf("unknown output format %q", outputFlag)
	}
}

// toYAML renders v through its JSON form so field names and hex encodings
// match the API.
func toYAML(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	plain(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	return buf.Bytes(), enc.Close()
}

// plain drops the flow and quoting styles JSON input carries.
func plain(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plain(c)
	}
}

func printTask(t domain.Task) error {
	return printValue(t, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "ID:\t%d\n", t.ID)
		fmt.Fprintf(tw, "Status:\t%s\n", t.Status)
		if t.Outcome != domain.OutcomeNone {
			fmt.Fprintf(tw, "Outcome:\t%s\n", t.Outcome)
		}
		fmt.Fprintf(tw, "Client:\t%s\n", t.Client)
		if !t.Agent.IsZero() {
			fmt.Fprintf(tw, "Agent:\t%s\n", t.Agent)
		}
		fmt.Fprintf(tw, "Payment:\t%s of %s (deposited: %t)\n", t.PaymentAmount, t.PaymentToken, t.PaymentDeposited)
		fmt.Fprintf(tw, "Stake:\t%s of %s\n", t.AgentStake, t.StakeToken)
		fmt.Fprintf(tw, "Deadline:\t%s\n", t.Deadline.Format(time.RFC3339))
		if !t.CooldownEndsAt.IsZero() {
			fmt.Fprintf(tw, "Cooldown ends:\t%s\n", t.CooldownEndsAt.Format(time.RFC3339))
		}
		if t.AssertionID != "" {
			fmt.Fprintf(tw, "Assertion:\t%s\n", t.AssertionID)
		}
		return tw.Flush()
	})
}

func printTasks(tasks []domain.Task) error {
	return printValue(tasks, func(w io.Writer) error {
		if len(tasks) == 0 {
			fmt.Fprintln(w, "No tasks.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tCLIENT\tAGENT\tPAYMENT\tDEADLINE")
		for _, t := range tasks {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Status, short(t.Client), short(t.Agent), t.PaymentAmount, t.Deadline.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	})
}

// short abbreviates an address for tables.
func short(a domain.Address) string {
	if a.IsZero() {
		return "-"
	}
	s := a.String()
	return s[:6] + "…" + s[len(s)-4:]
}
