// fleetctl is the operator CLI for the fleetd HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	baseURL string
	log     *zap.Logger
)

func main() {
	var err error
	log, err = zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate the fleetd control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "server", "http://localhost:8080", "fleetd base URL")

	root.AddCommand(nodeCmd(), reservationCmd())
	if err := root.Execute(); err != nil {
		log.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node", Short: "Manage fleet nodes"}

	var tenant, name, platform string
	var cpu, mem, disk int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/v1/nodes", map[string]any{
				"tenant_id": tenant,
				"name":      name,
				"platform":  platform,
				"capacity": map[string]int64{
					"cpu_millicores": cpu,
					"memory_mb":      mem,
					"disk_mb":        disk,
				},
			})
		},
	}
	create.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	create.Flags().StringVar(&name, "name", "", "node name")
	create.Flags().StringVar(&platform, "platform", "linux", "platform")
	create.Flags().Int64Var(&cpu, "cpu", 0, "cpu millicores")
	create.Flags().Int64Var(&mem, "memory", 0, "memory MB")
	create.Flags().Int64Var(&disk, "disk", 0, "disk MB")
	_ = create.MarkFlagRequired("tenant")
	_ = create.MarkFlagRequired("name")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/nodes/" + args[0])
		},
	}

	var listTenant string
	list := &cobra.Command{
		Use:   "list",
		Short: "List nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/nodes?tenant=" + listTenant)
		},
	}
	list.Flags().StringVar(&listTenant, "tenant", "", "filter by tenant")

	maintenance := &cobra.Command{
		Use:   "maintenance <enter|exit> <id>",
		Short: "Toggle maintenance mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "enter":
				return post("/v1/nodes/"+args[1]+"/maintenance", nil)
			case "exit":
				return del("/v1/nodes/" + args[1] + "/maintenance")
			}
			return fmt.Errorf("unknown maintenance action %q", args[0])
		},
	}

	decommission := &cobra.Command{
		Use:   "decommission <id>",
		Short: "Terminally retire a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/v1/nodes/"+args[0]+"/decommission", nil)
		},
	}

	cmd.AddCommand(create, get, list, maintenance, decommission)
	return cmd
}

func reservationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reservation", Short: "Manage capacity reservations"}

	var nodeID string
	var cpu, mem, disk, ttl int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Hold capacity on a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/v1/reservations", map[string]any{
				"node_id": nodeID,
				"requested": map[string]int64{
					"cpu_millicores": cpu,
					"memory_mb":      mem,
					"disk_mb":        disk,
				},
				"ttl_seconds": ttl,
			})
		},
	}
	create.Flags().StringVar(&nodeID, "node", "", "target node id")
	create.Flags().Int64Var(&cpu, "cpu", 0, "cpu millicores")
	create.Flags().Int64Var(&mem, "memory", 0, "memory MB")
	create.Flags().Int64Var(&disk, "disk", 0, "disk MB")
	create.Flags().Int64Var(&ttl, "ttl", 0, "TTL seconds (0 = server default)")
	_ = create.MarkFlagRequired("node")

	get := &cobra.Command{
		Use:   "get <token>",
		Short: "Show a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/v1/reservations/" + args[0])
		},
	}

	claim := &cobra.Command{
		Use:   "claim <token>",
		Short: "Convert a hold into a committed allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/v1/reservations/"+args[0]+"/claim", nil)
		},
	}

	var reason string
	release := &cobra.Command{
		Use:   "release <token>",
		Short: "Give held capacity back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return post("/v1/reservations/"+args[0]+"/release", map[string]string{"reason": reason})
		},
	}
	release.Flags().StringVar(&reason, "reason", "", "release reason")

	cmd.AddCommand(create, get, claim, release)
	return cmd
}

func post(path string, body any) error {
	var buf io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(bs)
	}
	resp, err := http.Post(baseURL+path, "application/json", buf)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func del(path string) error {
	req, err := http.NewRequest(http.MethodDelete, baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func getJSON(path string) error {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	var out bytes.Buffer
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Write(body)
	}
	fmt.Println(out.String())
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
