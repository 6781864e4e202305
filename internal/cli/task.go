package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/escrow/internal/app/escrow"
	"github.com/tutu-network/escrow/internal/daemon"
	"github.com/tutu-network/escrow/internal/domain"
	"github.com/tutu-network/escrow/internal/security"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, drive and inspect escrow tasks",
}

var (
	createDescription string
	createToken       string
	createAmount      string
	createStakeToken  string
	createDeadline    time.Duration

	acceptStake string

	assertFile string
	assertHash string
	assertURI  string

	evidenceFile string
	evidenceURI  string

	reasonFlag string

	listParty  string
	listStatus string
	listLimit  int
)

func init() {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Open a task as client",
		Args:  cobra.NoArgs,
		RunE:  runTaskCreate,
	}
	createCmd.Flags().StringVar(&createDescription, "description", "", "Task description URI")
	createCmd.Flags().StringVar(&createToken, "token", daemon.DefaultPaymentToken, "Payment token address")
	createCmd.Flags().StringVar(&createAmount, "amount", "", "Payment amount (base units)")
	createCmd.Flags().StringVar(&createStakeToken, "stake-token", daemon.DefaultStakeToken, "Stake token address")
	createCmd.Flags().DurationVar(&createDeadline, "deadline", 24*time.Hour, "Time from now until the deadline")
	createCmd.MarkFlagRequired("amount")

	acceptCmd := &cobra.Command{
		Use:   "accept TASK_ID",
		Short: "Accept a task as agent, locking a stake",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			stake, err := parseAmount(acceptStake)
			if err != nil {
				return domain.Task{}, err
			}
			return d.Engine.AcceptTask(ctx, who, id, stake)
		}),
	}
	acceptCmd.Flags().StringVar(&acceptStake, "stake", "0", "Stake amount (base units)")

	depositCmd := &cobra.Command{
		Use:   "deposit TASK_ID",
		Short: "Deposit the payment into escrow as client",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			return d.Engine.DepositPayment(ctx, who, id)
		}),
	}

	assertCmd := &cobra.Command{
		Use:   "assert TASK_ID",
		Short: "Assert completion with a signed result hash",
		Long: `Assert completion of a task as its agent.

With --result-file the file is stored as evidence, its keccak256 is the
result hash and its evidence URI the result URI.`,
		Args: cobra.ExactArgs(1),
		RunE: taskOp(runAssert),
	}
	assertCmd.Flags().StringVar(&assertFile, "result-file", "", "File holding the delivered result")
	assertCmd.Flags().StringVar(&assertHash, "result-hash", "", "Result hash (0x, 32 bytes)")
	assertCmd.Flags().StringVar(&assertURI, "result-uri", "", "Where the result can be fetched")

	disputeCmd := &cobra.Command{
		Use:   "dispute TASK_ID",
		Short: "Dispute an asserted result as client, posting the dispute bond",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			uri, err := evidenceArg(ctx, d)
			if err != nil {
				return domain.Task{}, err
			}
			return d.Engine.DisputeTask(ctx, who, id, uri)
		}),
	}
	escalateCmd := &cobra.Command{
		Use:   "escalate TASK_ID",
		Short: "Escalate a dispute to the oracle as agent, posting the escalation bond",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			uri, err := evidenceArg(ctx, d)
			if err != nil {
				return domain.Task{}, err
			}
			return d.Engine.EscalateToUMA(ctx, who, id, uri)
		}),
	}
	for _, c := range []*cobra.Command{disputeCmd, escalateCmd} {
		c.Flags().StringVar(&evidenceFile, "evidence-file", "", "File to store as evidence")
		c.Flags().StringVar(&evidenceURI, "evidence-uri", "", "Evidence URI already stored elsewhere")
	}

	settleCmd := &cobra.Command{
		Use:   "settle TASK_ID",
		Short: "Pay the agent once the cooldown passed without dispute",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			return d.Engine.SettleNoContest(ctx, who, id)
		}),
	}
	concedeCmd := &cobra.Command{
		Use:   "concede TASK_ID",
		Short: "Refund the client once the agent let the response window lapse",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			return d.Engine.SettleAgentConceded(ctx, who, id)
		}),
	}
	timeoutCmd := &cobra.Command{
		Use:   "timeout TASK_ID",
		Short: "Cancel a task past its deadline as client",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			return d.Engine.TimeoutCancellation(ctx, who, id, reasonFlag)
		}),
	}
	cannotCmd := &cobra.Command{
		Use:   "cannot-complete TASK_ID",
		Short: "Withdraw from an accepted task as agent",
		Args:  cobra.ExactArgs(1),
		RunE: taskOp(func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
			return d.Engine.CannotComplete(ctx, who, id, reasonFlag)
		}),
	}
	for _, c := range []*cobra.Command{timeoutCmd, cannotCmd} {
		c.Flags().StringVar(&reasonFlag, "reason", "", "Reason recorded with the event")
	}

	showCmd := &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskShow,
	}
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks by party or status",
		Args:    cobra.NoArgs,
		RunE:    runTaskList,
	}
	listCmd.Flags().StringVar(&listParty, "party", "", "Client or agent address (default: the --from key)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Task status, e.g. ResultAsserted")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum tasks to list")

	eventsCmd := &cobra.Command{
		Use:   "events TASK_ID",
		Short: "Show a task's event log",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskEvents,
	}

	taskCmd.AddCommand(createCmd, acceptCmd, depositCmd, assertCmd, disputeCmd, escalateCmd,
		settleCmd, concedeCmd, timeoutCmd, cannotCmd, showCmd, listCmd, eventsCmd)
	rootCmd.AddCommand(taskCmd)
}

type taskFunc func(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error)

// taskOp adapts a lifecycle call into a RunE that prints the updated task.
func taskOp(fn taskFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		who, err := caller(ctx, d)
		if err != nil {
			return err
		}
		task, err := fn(ctx, d, who, id)
		if err != nil {
			return err
		}
		return printTask(task)
	}
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	amount, err := parseAmount(createAmount)
	if err != nil {
		return err
	}
	token, err := domain.ParseAddress(createToken)
	if err != nil {
		return fmt.Errorf("--token: %w", err)
	}
	stakeToken, err := domain.ParseAddress(createStakeToken)
	if err != nil {
		return fmt.Errorf("--stake-token: %w", err)
	}

	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	who, err := caller(ctx, d)
	if err != nil {
		return err
	}
	task, err := d.Engine.CreateTask(ctx, who, escrow.CreateParams{
		DescriptionURI: createDescription,
		PaymentToken:   token,
		PaymentAmount:  amount,
		Deadline:       d.Engine.Now().Add(createDeadline),
		StakeToken:     stakeToken,
	})
	if err != nil {
		return err
	}
	return printTask(task)
}

func runAssert(ctx context.Context, d *daemon.Daemon, who domain.Address, id uint64) (domain.Task, error) {
	var (
		hash domain.Hash
		uri  = assertURI
		err  error
	)
	switch {
	case assertFile != "":
		content, rerr := os.ReadFile(assertFile)
		if rerr != nil {
			return domain.Task{}, rerr
		}
		hash = security.Keccak256(content)
		if uri == "" {
			if uri, err = d.Evidence.Store(ctx, content); err != nil {
				return domain.Task{}, err
			}
		}
	case assertHash != "":
		if hash, err = domain.ParseHash(assertHash); err != nil {
			return domain.Task{}, fmt.Errorf("--result-hash: %w", err)
		}
	default:
		return domain.Task{}, fmt.Errorf("one of --result-file or --result-hash is required")
	}

	kps, err := keys(d)
	if err != nil {
		return domain.Task{}, err
	}
	var sig []byte
	for _, kp := range kps {
		sig = append(sig, kp.SignResult(id, hash)...)
	}
	return d.Engine.AssertCompletion(ctx, who, id, hash, sig, uri)
}

// evidenceArg returns --evidence-uri, or stores --evidence-file and
// returns its URI.
func evidenceArg(ctx context.Context, d *daemon.Daemon) (string, error) {
	if evidenceFile == "" {
		return evidenceURI, nil
	}
	content, err := os.ReadFile(evidenceFile)
	if err != nil {
		return "", err
	}
	return d.Evidence.Store(ctx, content)
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	task, err := d.Engine.GetTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printTask(task)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()
	ctx := cmd.Context()

	var tasks []domain.Task
	if listStatus != "" {
		status, err := domain.ParseTaskStatus(listStatus)
		if err != nil {
			return err
		}
		tasks, err = d.Engine.TasksByStatus(ctx, status, listLimit)
		if err != nil {
			return err
		}
		return printTasks(tasks)
	}

	var party domain.Address
	if listParty != "" {
		if party, err = domain.ParseAddress(listParty); err != nil {
			return fmt.Errorf("--party: %w", err)
		}
	} else if party, err = caller(ctx, d); err != nil {
		return err
	}
	if tasks, err = d.Engine.TasksByParty(ctx, party, listLimit); err != nil {
		return err
	}
	return printTasks(tasks)
}

func runTaskEvents(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	events, err := d.Engine.TaskEvents(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printValue(events, nil)
}
