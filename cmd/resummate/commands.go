package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/resummate/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the resume coach",
	Long: `Send a message to the resume coach.

Examples:
  resummate chat "How can I improve my summary section?"
  resummate chat --thread 4f1c "What skills am I missing for this job?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		threadID, _ := cmd.Flags().GetString("thread")
		noStream, _ := cmd.Flags().GetBool("no-stream")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"message": message}
		if threadID != "" {
			body["thread_id"] = threadID
		}

		if noStream {
			body["stream"] = false
			resp, err := client.post(cmd.Context(), "/api/chat", body)
			if err != nil {
				return err
			}
			var out struct {
				ThreadID string `json:"thread_id"`
				Reply    string `json:"reply"`
				Error    string `json:"error"`
			}
			if err := decodeJSON(resp, &out); err != nil {
				return err
			}
			fmt.Println(out.Reply)
			if out.Error != "" {
				printWarning("turn ended with an error: %s", out.Error)
			}
			printThreadHint(threadID, out.ThreadID)
			return nil
		}

		resp, err := client.post(cmd.Context(), "/api/chat", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			var apiErr struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
			}
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		if err := relayChatStream(resp.Body); err != nil {
			return err
		}
		printThreadHint(threadID, resp.Header.Get("X-Thread-ID"))
		return nil
	},
}

// relayChatStream prints delta frames as they arrive and reports the
// terminal frame.
func relayChatStream(body io.Reader) error {
	type frame struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}

	wroteText := false
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			continue
		}
		switch f.Type {
		case "delta":
			fmt.Print(f.Text)
			wroteText = true
		case "done":
			if wroteText {
				fmt.Println()
			}
			return nil
		case "error":
			if wroteText {
				fmt.Println()
			}
			return fmt.Errorf("%s: %s", f.Kind, f.Message)
		}
	}
	if wroteText {
		fmt.Println()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return fmt.Errorf("stream ended without a terminal frame")
}

func printThreadHint(requested, assigned string) {
	if requested == "" && assigned != "" {
		printStep("thread %s (use --thread %s to continue this conversation)", assigned, assigned)
	}
}

func init() {
	chatCmd.Flags().String("thread", "", "thread to continue (default: start a new thread)")
	chatCmd.Flags().Bool("no-stream", false, "wait for the full reply instead of streaming")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <thread>",
	Short: "Show a thread's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/threads/%s/messages", args[0])
		if limit > 0 {
			path += fmt.Sprintf("?limit=%d", limit)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var messages []struct {
			Role      string   `json:"role"`
			Content   string   `json:"content"`
			ToolsUsed []string `json:"tools_used"`
		}
		if err := decodeJSON(resp, &messages); err != nil {
			return err
		}

		if len(messages) == 0 {
			fmt.Println("No messages in this thread.")
			return nil
		}

		for _, m := range messages {
			label := colorize(colorCyan, "you")
			if m.Role == "assistant" {
				label = colorize(colorGreen, "coach")
			}
			fmt.Printf("%s: %s\n", label, m.Content)
			if len(m.ToolsUsed) > 0 {
				fmt.Printf("  %s\n", colorize(colorYellow, "tools: "+strings.Join(m.ToolsUsed, ", ")))
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 0, "show only the last N messages")
}

// --- thread ---

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Manage conversation threads",
}

var threadDeleteCmd = &cobra.Command{
	Use:   "delete <thread>",
	Short: "Delete a thread and everything attached to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/threads/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted thread %s", args[0])
		return nil
	},
}

func init() {
	threadCmd.AddCommand(threadDeleteCmd)
}

// --- artifacts ---

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Manage a thread's resume",
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage a thread's job description",
}

func uploadArtifactCmd(use, short, kindPath string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, file := args[0], args[1]

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}

			path := fmt.Sprintf("/api/threads/%s/%s", threadID, kindPath)
			resp, err := client.upload(cmd.Context(), path, filepath.Base(file), data)
			if err != nil {
				return err
			}

			var result struct {
				Version    int `json:"version"`
				Characters int `json:"characters"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}

			printSuccess("Uploaded %s (version %d, %d characters extracted)", filepath.Base(file), result.Version, result.Characters)
			return nil
		},
	}
}

func showArtifactCmd(use, short, kindPath string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/threads/%s/%s", args[0], kindPath))
			if err != nil {
				return err
			}

			var artifact struct {
				Version  int    `json:"version"`
				FileName string `json:"file_name"`
				Text     string `json:"text"`
			}
			if err := decodeJSON(resp, &artifact); err != nil {
				return err
			}

			printStatus("File", "%s (version %d)", artifact.FileName, artifact.Version)
			fmt.Println(artifact.Text)
			return nil
		},
	}
}

func deleteArtifactCmd(use, short, kindPath string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			resp, err := client.delete(cmd.Context(), fmt.Sprintf("/api/threads/%s/%s", args[0], kindPath))
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}

			printSuccess("Deleted")
			return nil
		},
	}
}

var jobURLCmd = &cobra.Command{
	Use:   "url <thread> <url>",
	Short: "Ingest a job description from a posting URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/threads/%s/job-description/url", args[0])
		resp, err := client.post(cmd.Context(), path, map[string]string{"url": args[1]})
		if err != nil {
			return err
		}

		var result struct {
			Version    int `json:"version"`
			Characters int `json:"characters"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Fetched job posting (version %d, %d characters extracted)", result.Version, result.Characters)
		return nil
	},
}

func init() {
	resumeCmd.AddCommand(uploadArtifactCmd("upload <thread> <file>", "Upload a resume (pdf, docx, txt, md)", "resume"))
	resumeCmd.AddCommand(showArtifactCmd("show <thread>", "Show the current resume text", "resume"))
	resumeCmd.AddCommand(deleteArtifactCmd("delete <thread>", "Delete the thread's resume", "resume"))

	jobCmd.AddCommand(uploadArtifactCmd("upload <thread> <file>", "Upload a job description (pdf, docx, txt, md)", "job-description"))
	jobCmd.AddCommand(jobURLCmd)
	jobCmd.AddCommand(showArtifactCmd("show <thread>", "Show the current job description text", "job-description"))
	jobCmd.AddCommand(deleteArtifactCmd("delete <thread>", "Delete the thread's job description", "job-description"))
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- auth ---

var authCmd = &cobra.Command{
	Use:   "auth <api-key>",
	Short: "Store the model gateway API key in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetAPIKey(args[0]); err != nil {
			return err
		}
		printSuccess("API key stored")
		return nil
	},
}
