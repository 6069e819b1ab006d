package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fl-sean03/agentgate/internal/core"
)

var workOrderCmd = &cobra.Command{
	Use:     "work-order",
	Aliases: []string{"wo"},
	Short:   "Submit, inspect, and cancel work orders against a running agentgate server",
}

var (
	woTaskPrompt   string
	woSourceType   string
	woDestPath     string
	woLocalPath    string
	woGitURL       string
	woGitBranch    string
	woTemplateName string
	woMaxIter      int
	woMaxWallClock int
	woAgentType    string
	woGatePlanFile string
	woWait         bool
	woPollInterval time.Duration

	woListStatus string
	woListLimit  int

	woCancelReason string
)

func init() {
	rootCmd.AddCommand(workOrderCmd)

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new work order",
		RunE:  runWorkOrderSubmit,
	}
	submitCmd.Flags().StringVar(&woTaskPrompt, "task", "", "task prompt for the agent (required, >= 10 characters)")
	submitCmd.Flags().StringVar(&woSourceType, "source-type", "fresh", "workspace source: fresh, local, or git_url")
	submitCmd.Flags().StringVar(&woDestPath, "dest-path", "", "destination path for a fresh workspace")
	submitCmd.Flags().StringVar(&woLocalPath, "local-path", "", "existing workspace path for a local source")
	submitCmd.Flags().StringVar(&woGitURL, "git-url", "", "repository URL for a git_url source")
	submitCmd.Flags().StringVar(&woGitBranch, "git-branch", "", "branch to clone for a git_url source")
	submitCmd.Flags().StringVar(&woTemplateName, "template", "", "template name to materialize for a fresh source")
	submitCmd.Flags().IntVar(&woMaxIter, "max-iterations", 0, "override the default max convergence iterations")
	submitCmd.Flags().IntVar(&woMaxWallClock, "max-wall-clock-seconds", 0, "override the default wall-clock budget in seconds")
	submitCmd.Flags().StringVar(&woAgentType, "agent-type", "", "agent driver name to use for this work order")
	submitCmd.Flags().StringVar(&woGatePlanFile, "gate-plan", "", "path to a YAML GatePlan file (overrides the single-gate L0 default)")
	submitCmd.Flags().BoolVar(&woWait, "wait", false, "block until the work order reaches a terminal state")
	submitCmd.Flags().DurationVar(&woPollInterval, "poll-interval", 2*time.Second, "polling interval when --wait is set")
	_ = submitCmd.MarkFlagRequired("task")
	workOrderCmd.AddCommand(submitCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE:  runWorkOrderList,
	}
	listCmd.Flags().StringVar(&woListStatus, "status", "", "filter by status")
	listCmd.Flags().IntVar(&woListLimit, "limit", 20, "maximum number of work orders to list")
	workOrderCmd.AddCommand(listCmd)

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a work order by ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkOrderGet,
	}
	workOrderCmd.AddCommand(getCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running work order",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkOrderCancel,
	}
	cancelCmd.Flags().StringVar(&woCancelReason, "reason", "", "reason recorded against the cancellation")
	workOrderCmd.AddCommand(cancelCmd)
}

func client() *apiClient {
	return newAPIClient(viper.GetString("api_addr"), viper.GetString("api_key"))
}

func runWorkOrderSubmit(cmd *cobra.Command, _ []string) error {
	if len(woTaskPrompt) < 10 {
		return validationErr(fmt.Errorf("--task must be at least 10 characters"))
	}

	source := map[string]interface{}{"type": woSourceType}
	switch core.WorkspaceSourceType(woSourceType) {
	case core.SourceLocalPath:
		source["localPath"] = woLocalPath
	case core.SourceGitURL:
		source["gitUrl"] = woGitURL
		source["gitBranch"] = woGitBranch
	case core.SourceFreshTemplate:
		source["destPath"] = woDestPath
		source["templateName"] = woTemplateName
	default:
		return validationErr(fmt.Errorf("unsupported --source-type %q (use fresh, local, or git_url)", woSourceType))
	}

	gatePlan := map[string]interface{}{
		"gates": []map[string]interface{}{
			{
				"name": "default",
				"check": map[string]interface{}{
					"type":   "verification-levels",
					"levels": []string{"L0"},
				},
			},
		},
	}
	if woGatePlanFile != "" {
		raw, err := os.ReadFile(woGatePlanFile)
		if err != nil {
			return validationErr(fmt.Errorf("reading %s: %w", woGatePlanFile, err))
		}
		var parsed map[string]interface{}
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return validationErr(fmt.Errorf("parsing %s as YAML: %w", woGatePlanFile, err))
		}
		gatePlan = parsed
	}

	req := map[string]interface{}{
		"taskPrompt":      woTaskPrompt,
		"workspaceSource": source,
		"gatePlan":        gatePlan,
	}
	if woMaxIter > 0 {
		req["maxIterations"] = woMaxIter
	}
	if woMaxWallClock > 0 {
		req["maxWallClockSeconds"] = woMaxWallClock
	}
	if woAgentType != "" {
		req["agentType"] = woAgentType
	}

	var wo core.WorkOrder
	if err := client().do("POST", "/api/v1/work-orders", req, &wo); err != nil {
		return runFailedErr(err)
	}
	printJSON(wo)

	if !woWait {
		return nil
	}
	return waitForTerminal(cmd, wo.ID)
}

func waitForTerminal(cmd *cobra.Command, id core.WorkOrderID) error {
	ticker := time.NewTicker(woPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			return runFailedErr(cmd.Context().Err())
		case <-ticker.C:
			var wo core.WorkOrder
			if err := client().do("GET", "/api/v1/work-orders/"+string(id), nil, &wo); err != nil {
				return runFailedErr(err)
			}
			if !wo.Status.IsTerminal() {
				continue
			}
			printJSON(wo)
			if wo.Status != core.WorkOrderSucceeded {
				return runFailedErr(fmt.Errorf("work order %s ended in status %s: %s", wo.ID, wo.Status, wo.Error))
			}
			return nil
		}
	}
}

func runWorkOrderList(_ *cobra.Command, _ []string) error {
	path := fmt.Sprintf("/api/v1/work-orders?limit=%d", woListLimit)
	if woListStatus != "" {
		path += "&status=" + woListStatus
	}
	var orders []core.WorkOrder
	if err := client().do("GET", path, nil, &orders); err != nil {
		return runFailedErr(err)
	}
	printJSON(orders)
	return nil
}

func runWorkOrderGet(_ *cobra.Command, args []string) error {
	var wo core.WorkOrder
	if err := client().do("GET", "/api/v1/work-orders/"+args[0], nil, &wo); err != nil {
		return runFailedErr(err)
	}
	printJSON(wo)
	return nil
}

func runWorkOrderCancel(_ *cobra.Command, args []string) error {
	path := "/api/v1/work-orders/" + args[0]
	if woCancelReason != "" {
		path += "?reason=" + woCancelReason
	}
	var result map[string]interface{}
	if err := client().do("DELETE", path, nil, &result); err != nil {
		return runFailedErr(err)
	}
	printJSON(result)
	return nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
