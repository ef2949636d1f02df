package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type taskView struct {
	TaskID          string            `json:"taskId"`
	ProjectID       string            `json:"projectId"`
	Status          string            `json:"status"`
	TrafficLight    string            `json:"trafficLight"`
	CurrentStep     int               `json:"currentStep"`
	TotalSteps      int               `json:"totalSteps"`
	Message         string            `json:"message"`
	ArtifactRefs    map[string]string `json:"artifactRefs"`
	Errors          []string          `json:"errors"`
	ProgressPercent int               `json:"progressPercent"`
	IsComplete      bool              `json:"isComplete"`
}

type submitResp struct {
	TaskID              string `json:"taskId"`
	Status              string `json:"status"`
	Message             string `json:"message"`
	EstimatedCompletion string `json:"estimatedCompletion"`
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (u *ui) light(l string) string {
	switch l {
	case "GREEN":
		return u.ok(l)
	case "YELLOW":
		return u.warn(l)
	case "RED":
		return u.err(l)
	default:
		return u.dim(l)
	}
}

func (c *client) request(method, path string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func (c *client) getTask(id string) (*taskView, error) {
	status, resp, err := c.request("GET", "/v1/designq/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("error (%d): %s", status, string(resp))
	}
	var view taskView
	if err := json.Unmarshal(resp, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	baseURL := getenv("DESIGNQ_BASE_URL", "http://localhost:8080")
	token := getenv("DESIGNQ_TOKEN", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "designq",
		Short: "designQ CLI",
		Long:  "designQ CLI for submitting sprinkler design runs and tracking their progress.",
	}
	root.SilenceUsage = true
	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for designQ")
	root.PersistentFlags().StringVar(&token, "token", token, "Bearer token")

	newClient := func() *client {
		return &client{baseURL: baseURL, token: token, httpClient: &http.Client{Timeout: 30 * time.Second}}
	}

	var (
		projectID    string
		projectType  string
		hazardClass  string
		inputs       []string
		priority     string
		buildingInfo string
		waterSupply  string
	)
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a design task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" || len(inputs) == 0 {
				return errors.New("--project-id and at least one --input are required")
			}
			files := make([]map[string]string, 0, len(inputs))
			for _, in := range inputs {
				ref := map[string]string{"s3_uri": in}
				if i := strings.Index(in, "="); i > 0 && !strings.HasPrefix(in, "s3://") {
					ref = map[string]string{"file_type": in[:i], "s3_uri": in[i+1:]}
				}
				files = append(files, ref)
			}
			body := map[string]any{
				"projectId":   projectID,
				"projectType": projectType,
				"hazardClass": hazardClass,
				"inputFiles":  files,
			}
			if priority != "" {
				body["priority"] = priority
			}
			if buildingInfo != "" {
				var bi map[string]any
				if err := json.Unmarshal([]byte(buildingInfo), &bi); err != nil {
					return fmt.Errorf("invalid --building-info JSON: %w", err)
				}
				body["buildingInfo"] = bi
			}
			if waterSupply != "" {
				var ws map[string]any
				if err := json.Unmarshal([]byte(waterSupply), &ws); err != nil {
					return fmt.Errorf("invalid --water-supply JSON: %w", err)
				}
				body["waterSupply"] = ws
			}

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Submitting design task..."
			spin.Start()
			status, resp, err := newClient().request("POST", "/v1/designq/tasks", body)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out submitResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s Task submitted: %s\n", ui.ok("[OK]"), out.TaskID)
			if out.EstimatedCompletion != "" {
				fmt.Printf("%s estimated completion %s\n", ui.dim("    "), ui.info(out.EstimatedCompletion))
			}
			return nil
		},
	}
	submit.Flags().StringVar(&projectID, "project-id", "", "Project identifier")
	submit.Flags().StringVar(&projectType, "project-type", "warehouse", "Project type")
	submit.Flags().StringVar(&hazardClass, "hazard-class", "ordinary-hazard-2", "Hazard classification")
	submit.Flags().StringArrayVar(&inputs, "input", nil, "Input file (s3 URI, or type=s3://...)")
	submit.Flags().StringVar(&priority, "priority", "", "Priority (high for the weighted queue)")
	submit.Flags().StringVar(&buildingInfo, "building-info", "", "Building info JSON")
	submit.Flags().StringVar(&waterSupply, "water-supply", "", "Water supply JSON")

	status := &cobra.Command{
		Use:   "status <taskId>",
		Short: "Get task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching status..."
			spin.Start()
			view, err := newClient().getTask(args[0])
			spin.Stop()
			if err != nil {
				return err
			}
			printView(ui, view)
			return nil
		},
	}

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch <taskId>",
		Short: "Poll a task until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			bar := progressbar.NewOptions(100,
				progressbar.OptionSetDescription("Design run"),
				progressbar.OptionSetWidth(24),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			for {
				view, err := c.getTask(args[0])
				if err != nil {
					return err
				}
				_ = bar.Set(view.ProgressPercent)
				bar.Describe(fmt.Sprintf("Design run [%s]", view.Status))
				if view.IsComplete {
					_ = bar.Finish()
					fmt.Println()
					printView(ui, view)
					if view.Status == "FAILED" {
						os.Exit(1)
					}
					return nil
				}
				time.Sleep(interval)
			}
		},
	}
	watch.Flags().DurationVar(&interval, "interval", 3*time.Second, "Poll interval")

	artifacts := &cobra.Command{
		Use:   "artifacts <taskId>",
		Short: "List artifacts for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, resp, err := newClient().request("GET", "/v1/designq/tasks/"+url.PathEscape(args[0])+"/artifacts", nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			fmt.Println(string(resp))
			return nil
		},
	}

	root.AddCommand(submit, status, watch, artifacts)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.err("[ERR]"), err)
		os.Exit(1)
	}
}

func printView(u *ui, v *taskView) {
	fmt.Printf("%s %s\n", u.title("Task"), v.TaskID)
	fmt.Printf("  project:  %s\n", v.ProjectID)
	fmt.Printf("  status:   %s  light: %s\n", v.Status, u.light(v.TrafficLight))
	fmt.Printf("  progress: %d%% (step %d/%d)\n", v.ProgressPercent, v.CurrentStep, v.TotalSteps)
	if v.Message != "" {
		fmt.Printf("  message:  %s\n", v.Message)
	}
	for typ, ref := range v.ArtifactRefs {
		fmt.Printf("  artifact: %s -> %s\n", typ, u.info(ref))
	}
	for _, e := range v.Errors {
		fmt.Printf("  error:    %s\n", u.err(e))
	}
}
