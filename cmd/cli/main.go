package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	timeout   string
	cwd       string
	threadID  string
)

func main() {
	root := &cobra.Command{
		Use:   "dockeragent-cli",
		Short: "CLI client for dockeragent-core",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("DOCKER_AGENT_API_KEY"), "API key")

	dockerCmd := &cobra.Command{
		Use:   "docker-cli [subcommand] [args...]",
		Short: "Dispatch a Docker CLI subcommand through the Command Gateway",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDockerCLI,
	}
	dockerCmd.Flags().StringVar(&timeout, "timeout", "30s", "Command timeout")
	dockerCmd.Flags().StringVar(&cwd, "cwd", "", "Working directory, relative to the workspace root")
	dockerCmd.Flags().StringVar(&threadID, "thread", "", "Trajectory thread id to attach this call to")
	root.AddCommand(dockerCmd)

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Run JavaScript against the Programmatic Executor",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExecute,
	}
	root.AddCommand(execCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	trajectoryCmd := &cobra.Command{
		Use:   "trajectory [id]",
		Short: "Fetch a recorded trajectory by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runGetTrajectory,
	}
	root.AddCommand(trajectoryCmd)

	finalizeCmd := &cobra.Command{
		Use:   "finalize [thread-id]",
		Short: "Finalize the in-memory trajectory for a thread and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runFinalizeTrajectory,
	}
	root.AddCommand(finalizeCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded trajectories",
		RunE:  runListTrajectories,
	}
	listCmd.Flags().String("thread", "", "Filter by thread id")
	root.AddCommand(listCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDockerCLI(cmd *cobra.Command, args []string) error {
	payload := map[string]any{
		"subcommand": args[0],
		"args":       args[1:],
		"timeout":    timeout,
	}
	if cwd != "" {
		payload["cwd"] = cwd
	}
	if threadID != "" {
		payload["thread_id"] = threadID
	}

	result, err := postJSON("/v1/docker/execute", payload, 35*time.Second)
	if err != nil {
		return err
	}
	printResult(result)

	if exitCode, ok := result["exit_code"].(float64); ok && exitCode != 0 {
		os.Exit(int(exitCode))
	}
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	var code string
	if len(args) > 0 {
		code = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	payload := map[string]any{
		"code": code,
	}
	if threadID != "" {
		payload["thread_id"] = threadID
	}

	result, err := postJSON("/v1/execute", payload, 15*time.Second)
	if err != nil {
		return err
	}
	printResult(result)

	if hadError, ok := result["had_error"].(bool); ok && hadError {
		os.Exit(1)
	}
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	printResult(result)
	return nil
}

func runGetTrajectory(_ *cobra.Command, args []string) error {
	result, err := getJSON("/v1/trajectories/" + args[0])
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func runFinalizeTrajectory(_ *cobra.Command, args []string) error {
	result, err := postJSON("/v1/trajectories/"+args[0]+"/finalize", map[string]any{}, 10*time.Second)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func runListTrajectories(cmd *cobra.Command, _ []string) error {
	path := "/v1/trajectories"
	if thread, _ := cmd.Flags().GetString("thread"); thread != "" {
		path += "?thread_id=" + thread
	}
	result, err := getJSON(path)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func postJSON(path string, payload map[string]any, httpTimeout time.Duration) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func getJSON(path string) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func printResult(result map[string]any) {
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
}
