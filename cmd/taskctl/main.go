package main

/*
   Copyright 2018 Bruno Moura <brunotm@gmail.com>

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:   "taskctl",
		Short: "Inspect stream task runtimes over their admin HTTP surface",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:9090", "runtime admin address")

	root.AddCommand(statusCmd())
	root.AddCommand(actionCmd("pause", "Pause a task"))
	root.AddCommand(actionCmd("resume", "Resume a paused task"))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func actionCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			url := addr + "/tasks/" + args[0] + "/" + verb
			resp, err := client.Post(url, "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("taskctl: %s returned %s", url, resp.Status)
			}
			fmt.Printf("%s: accepted\n", args[0])
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [task-id]",
		Short: "Print the status of one task, or every task if none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/tasks"
			if len(args) == 1 {
				path = "/tasks/" + args[0]
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(addr + path)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("taskctl: %s returned %s", path, resp.Status)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			var out interface{}
			if err := json.Unmarshal(body, &out); err != nil {
				return err
			}
			pretty, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(pretty))
			return nil
		},
	}
}
