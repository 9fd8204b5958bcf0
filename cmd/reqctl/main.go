// Package main は reqmine API を操作するCLIツールです。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reqctl",
	Short: "Operator CLI for the reqmine requirement extraction service",
	Long:  `reqctl submits extraction jobs to a reqmine API server and tracks them.`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and store a session",
	Run: func(cmd *cobra.Command, args []string) {
		server, _ := cmd.Flags().GetString("server")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("REQMINE_PASSWORD")
		}
		if server == "" || username == "" || password == "" {
			log.Fatalln("server, username and password (flag or REQMINE_PASSWORD) are required")
		}

		if err := login(server, username, password); err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		fmt.Println("Login successful")
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload file-path",
	Short: "Upload a document and get a fileId for extraction jobs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			log.Fatalf("%v", err)
		}

		out, err := client.uploadFile(args[0])
		if err != nil {
			log.Fatalf("Upload failed: %v", err)
		}

		fmt.Println("Upload successful")
		fmt.Printf("%-20s %v\n", "File ID:", out["fileId"])
		fmt.Printf("%-20s %v\n", "MIME type:", out["mimeType"])
		if pages, ok := out["pages"].(float64); ok && pages > 0 {
			fmt.Printf("%-20s %.0f\n", "Pages:", pages)
		}
		fmt.Printf("%-20s %v\n", "Suggested priority:", out["suggestedPriority"])
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	Long: `Submit an extraction or contradiction-check job.

Extraction jobs take --text-file or --file-id as document input.
Contradiction checks take --requirements-file containing a JSON array of
{"title", "description"} objects.`,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			log.Fatalf("%v", err)
		}

		jobType, _ := cmd.Flags().GetString("type")
		priority, _ := cmd.Flags().GetString("priority")
		projectID, _ := cmd.Flags().GetString("project-id")

		payload, err := buildPayload(cmd, jobType)
		if err != nil {
			log.Fatalf("Failed to build payload: %v", err)
		}

		body := map[string]any{
			"type":    jobType,
			"payload": payload,
		}
		if priority != "" {
			body["priority"] = priority
		}
		if projectID != "" {
			body["projectId"] = projectID
		}

		var out map[string]any
		if err := client.doJSON("POST", "/api/jobs", body, &out); err != nil {
			log.Fatalf("Failed to submit job: %v", err)
		}

		fmt.Println("Job submitted")
		fmt.Printf("%-20s %v\n", "Job ID:", out["jobId"])
		fmt.Printf("%-20s %v\n", "Status:", out["status"])
		fmt.Printf("%-20s %v\n", "Priority:", out["priority"])
	},
}

func buildPayload(cmd *cobra.Command, jobType string) (map[string]any, error) {
	payload := map[string]any{}

	if jobType == "CONTRADICTION_CHECK" {
		reqFile, _ := cmd.Flags().GetString("requirements-file")
		if reqFile == "" {
			return nil, fmt.Errorf("--requirements-file is required for CONTRADICTION_CHECK")
		}
		raw, err := os.ReadFile(reqFile)
		if err != nil {
			return nil, fmt.Errorf("read requirements file: %w", err)
		}
		var reqs []map[string]any
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, fmt.Errorf("requirements file must be a JSON array: %w", err)
		}
		payload["requirements"] = reqs
		if threshold, _ := cmd.Flags().GetFloat64("threshold"); threshold > 0 {
			payload["threshold"] = threshold
		}
		return payload, nil
	}

	textFile, _ := cmd.Flags().GetString("text-file")
	fileID, _ := cmd.Flags().GetString("file-id")
	if textFile != "" {
		raw, err := os.ReadFile(textFile)
		if err != nil {
			return nil, fmt.Errorf("read text file: %w", err)
		}
		payload["text"] = string(raw)
		payload["fileName"] = textFile
	}
	if fileID != "" {
		payload["fileId"] = fileID
	}
	if fileName, _ := cmd.Flags().GetString("file-name"); fileName != "" {
		payload["fileName"] = fileName
	}
	if projectName, _ := cmd.Flags().GetString("project-name"); projectName != "" {
		payload["projectName"] = projectName
	}
	if n, _ := cmd.Flags().GetInt("analyses"); n > 0 {
		payload["numAnalyses"] = n
	}
	if n, _ := cmd.Flags().GetInt("per-analysis"); n > 0 {
		payload["reqPerAnalysis"] = n
	}
	return payload, nil
}

type jobView struct {
	JobID    string `json:"jobId"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Progress struct {
		Percent     int    `json:"percent"`
		Stage       string `json:"stage"`
		Message     string `json:"message"`
		TotalCalls  int    `json:"totalCalls"`
		FailedCalls int    `json:"failedCalls"`
	} `json:"progress"`
	CreatedAt   string `json:"createdAt"`
	StartedAt   string `json:"startedAt"`
	CompletedAt string `json:"completedAt"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ResultEndpoint string `json:"resultEndpoint"`
}

func isTerminalStatus(status string) bool {
	switch status {
	case "COMPLETED", "FAILED", "CANCELLED":
		return true
	default:
		return false
	}
}

var statusCmd = &cobra.Command{
	Use:   "status job-id",
	Short: "Show details of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			log.Fatalf("%v", err)
		}

		var job jobView
		if err := client.doJSON("GET", "/api/jobs/"+args[0], nil, &job); err != nil {
			log.Fatalf("Failed to get job: %v", err)
		}

		fmt.Println("Job Details")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("%-16s %s\n", "ID:", job.JobID)
		fmt.Printf("%-16s %s\n", "Type:", job.Type)
		fmt.Printf("%-16s %s\n", "Status:", job.Status)
		fmt.Printf("%-16s %s\n", "Priority:", job.Priority)
		fmt.Printf("%-16s %d%% (%s) %s\n", "Progress:", job.Progress.Percent, job.Progress.Stage, job.Progress.Message)
		if job.Progress.TotalCalls > 0 {
			fmt.Printf("%-16s %d/%d failed\n", "External calls:", job.Progress.FailedCalls, job.Progress.TotalCalls)
		}
		fmt.Printf("%-16s %s\n", "Created at:", job.CreatedAt)
		if job.StartedAt != "" {
			fmt.Printf("%-16s %s\n", "Started at:", job.StartedAt)
		}
		if job.CompletedAt != "" {
			fmt.Printf("%-16s %s\n", "Completed at:", job.CompletedAt)
		}
		if job.Error != nil {
			fmt.Printf("%-16s [%s] %s\n", "Error:", job.Error.Code, job.Error.Message)
		}
		if job.ResultEndpoint != "" {
			fmt.Printf("%-16s reqctl result %s\n", "Result:", job.JobID)
		}
	},
}

var resultCmd = &cobra.Command{
	Use:   "result job-id",
	Short: "Download the result of a completed job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			log.Fatalf("%v", err)
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			if err := client.downloadResult(args[0], os.Stdout); err != nil {
				log.Fatalf("Failed to download result: %v", err)
			}
			return
		}

		file, err := os.Create(output)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer file.Close()

		if err := client.downloadResult(args[0], file); err != nil {
			log.Fatalf("Failed to download result: %v", err)
		}
		fmt.Printf("Result written to %s\n", output)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel job-id",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			log.Fatalf("%v", err)
		}

		if err := client.doJSON("DELETE", "/api/jobs/"+args[0], nil, nil); err != nil {
			log.Fatalf("Failed to cancel job: %v", err)
		}
		fmt.Printf("Job %s cancelled\n", args[0])
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch job-id",
	Short: "Poll a job until it reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			log.Fatalf("%v", err)
		}

		intervalSec, _ := cmd.Flags().GetInt("interval")
		if intervalSec < 1 {
			intervalSec = 2
		}

		for {
			var job jobView
			if err := client.doJSON("GET", "/api/jobs/"+args[0], nil, &job); err != nil {
				log.Fatalf("Failed to get job: %v", err)
			}

			line := fmt.Sprintf("[%s] %s %3d%% (%s)", time.Now().Format("15:04:05"), job.Status, job.Progress.Percent, job.Progress.Stage)
			if job.Progress.Message != "" {
				line += " " + job.Progress.Message
			}
			fmt.Println(line)

			if isTerminalStatus(job.Status) {
				if job.Error != nil {
					fmt.Printf("Job failed: [%s] %s\n", job.Error.Code, job.Error.Message)
					os.Exit(1)
				}
				if job.ResultEndpoint != "" {
					fmt.Printf("Job finished. Fetch the result with: reqctl result %s\n", job.JobID)
				}
				return
			}
			time.Sleep(time.Duration(intervalSec) * time.Second)
		}
	},
}

var checkCmd = &cobra.Command{
	Use:   "check requirements-file",
	Short: "Run a contradiction check and wait for the verdict",
	Long: `Submit a CONTRADICTION_CHECK job for a JSON array of {"title",
"description"} objects, poll until it finishes and print the flagged pairs.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			log.Fatalf("%v", err)
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatalf("Failed to read requirements file: %v", err)
		}
		var reqs []map[string]any
		if err := json.Unmarshal(raw, &reqs); err != nil {
			log.Fatalf("Requirements file must be a JSON array: %v", err)
		}

		payload := map[string]any{"requirements": reqs}
		if threshold, _ := cmd.Flags().GetFloat64("threshold"); threshold > 0 {
			payload["threshold"] = threshold
		}

		var submitted map[string]any
		err = client.doJSON("POST", "/api/jobs", map[string]any{
			"type":    "CONTRADICTION_CHECK",
			"payload": payload,
		}, &submitted)
		if err != nil {
			log.Fatalf("Failed to submit check: %v", err)
		}
		jobID, _ := submitted["jobId"].(string)
		fmt.Printf("Check submitted as job %s\n", jobID)

		intervalSec, _ := cmd.Flags().GetInt("interval")
		if intervalSec < 1 {
			intervalSec = 2
		}

		var job jobView
		for {
			if err := client.doJSON("GET", "/api/jobs/"+jobID, nil, &job); err != nil {
				log.Fatalf("Failed to get job: %v", err)
			}
			if isTerminalStatus(job.Status) {
				break
			}
			fmt.Printf("[%s] %s %3d%% (%s)\n", time.Now().Format("15:04:05"), job.Status, job.Progress.Percent, job.Progress.Stage)
			time.Sleep(time.Duration(intervalSec) * time.Second)
		}
		if job.Error != nil {
			fmt.Printf("Check failed: [%s] %s\n", job.Error.Code, job.Error.Message)
			os.Exit(1)
		}

		var result struct {
			Threshold    float64 `json:"threshold"`
			CheckedPairs int     `json:"checkedPairs"`
			FailedCalls  int     `json:"failedCalls"`
			FlaggedCount int     `json:"flaggedCount"`
			Pairs        []struct {
				ATitle string  `json:"aTitle"`
				BTitle string  `json:"bTitle"`
				Score  float64 `json:"score"`
			} `json:"pairs"`
		}
		var buf bytes.Buffer
		if err := client.downloadResult(jobID, &buf); err != nil {
			log.Fatalf("Failed to download result: %v", err)
		}
		if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
			log.Fatalf("Failed to parse result: %v", err)
		}

		fmt.Printf("Checked %d pairs (threshold %.2f", result.CheckedPairs, result.Threshold)
		if result.FailedCalls > 0 {
			fmt.Printf(", %d calls failed", result.FailedCalls)
		}
		fmt.Println(")")
		if result.FlaggedCount == 0 {
			fmt.Println("No contradictions found")
			return
		}
		fmt.Printf("%d contradiction(s) flagged:\n", result.FlaggedCount)
		for _, pair := range result.Pairs {
			fmt.Printf("  %.2f  %q <-> %q\n", pair.Score, pair.ATitle, pair.BTitle)
		}
		os.Exit(1)
	},
}

func init() {
	loginCmd.Flags().StringP("server", "s", "http://localhost:8080", "API server base URL")
	loginCmd.Flags().StringP("username", "u", "", "Login username")
	loginCmd.Flags().StringP("password", "p", "", "Login password (or set REQMINE_PASSWORD)")
	rootCmd.AddCommand(loginCmd)

	rootCmd.AddCommand(uploadCmd)

	submitCmd.Flags().StringP("type", "t", "PDF_PROCESSING", "Job type (PDF_PROCESSING, LARGE_FILE_PROCESSING, CONTRADICTION_CHECK)")
	submitCmd.Flags().StringP("priority", "P", "", "Job priority (LOW, NORMAL, HIGH)")
	submitCmd.Flags().String("project-id", "", "Project identifier stored on the job")
	submitCmd.Flags().String("project-name", "", "Project name used for domain inference")
	submitCmd.Flags().String("file-id", "", "File ID from a previous upload")
	submitCmd.Flags().String("file-name", "", "Original file name used for domain inference")
	submitCmd.Flags().String("text-file", "", "Local text file submitted as direct text input")
	submitCmd.Flags().Int("analyses", 0, "Number of analysis perspectives")
	submitCmd.Flags().Int("per-analysis", 0, "Target requirements per perspective")
	submitCmd.Flags().String("requirements-file", "", "JSON array of requirements for CONTRADICTION_CHECK")
	submitCmd.Flags().Float64("threshold", 0, "Contradiction score threshold")
	rootCmd.AddCommand(submitCmd)

	rootCmd.AddCommand(statusCmd)

	resultCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout")
	rootCmd.AddCommand(resultCmd)

	rootCmd.AddCommand(cancelCmd)

	watchCmd.Flags().IntP("interval", "i", 2, "Polling interval in seconds")
	rootCmd.AddCommand(watchCmd)

	checkCmd.Flags().Float64("threshold", 0, "Contradiction score threshold")
	checkCmd.Flags().IntP("interval", "i", 2, "Polling interval in seconds")
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
