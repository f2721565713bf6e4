package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/kurul/internal/httpapi"
	"github.com/KilimcininKorOglu/kurul/internal/raft"
)

const defaultAPIAddr = "127.0.0.1:8701"

// apiClient talks to a node's HTTP API. When the addressed node is a
// follower it retries once against the leader named in the rejection.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	addr = strings.TrimPrefix(addr, "http://")
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// do performs a request, following a not_leader rejection once.
func (c *apiClient) do(method, path string, body []byte) (int, []byte, error) {
	status, data, err := c.once(c.base, method, path, body)
	if err != nil {
		return 0, nil, err
	}

	if status == http.StatusServiceUnavailable {
		var e httpapi.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error == "not_leader" && e.Leader != "" {
			return c.once("http://"+e.Leader, method, path, body)
		}
	}

	return status, data, nil
}

func (c *apiClient) once(base, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// printAPIError reports a failed API call on stderr.
func printAPIError(status int, data []byte) {
	var e httpapi.ErrorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		if e.Error == "not_leader" && e.Leader != "" {
			fmt.Fprintf(os.Stderr, "Error: not leader, try %s\n", e.Leader)
			return
		}
		if e.Message != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e.Message)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", e.Error)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: unexpected response (status %d)\n", status)
}

// getCmd handles the get command.
func getCmd(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", defaultAPIAddr, "API address of a cluster node")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printGetUsage(os.Stdout)
		return 0
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one key is required")
		return 1
	}
	key := fs.Arg(0)

	client := newAPIClient(*addr)
	status, data, err := client.do(http.MethodGet, "/v1/kv/"+url.PathEscape(key), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printAPIError(status, data)
		return 1
	}

	os.Stdout.Write(data)
	fmt.Println()
	return 0
}

// setCmd handles the set command.
func setCmd(args []string) int {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", defaultAPIAddr, "API address of a cluster node")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printSetUsage(os.Stdout)
		return 0
	}

	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Error: a key and a value are required")
		return 1
	}
	key, value := fs.Arg(0), fs.Arg(1)

	client := newAPIClient(*addr)
	status, data, err := client.do(http.MethodPut, "/v1/kv/"+url.PathEscape(key), []byte(value))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printAPIError(status, data)
		return 1
	}

	fmt.Println("OK")
	return 0
}

// delCmd handles the del command.
func delCmd(args []string) int {
	fs := flag.NewFlagSet("del", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", defaultAPIAddr, "API address of a cluster node")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printDelUsage(os.Stdout)
		return 0
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one key is required")
		return 1
	}
	key := fs.Arg(0)

	client := newAPIClient(*addr)
	status, data, err := client.do(http.MethodDelete, "/v1/kv/"+url.PathEscape(key), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printAPIError(status, data)
		return 1
	}

	fmt.Println("OK")
	return 0
}

// statusCmd handles the status command.
func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", defaultAPIAddr, "API address of a cluster node")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printStatusUsage(os.Stdout)
		return 0
	}

	client := newAPIClient(*addr)
	status, data, err := client.do(http.MethodGet, "/v1/status", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printAPIError(status, data)
		return 1
	}

	var st raft.Status
	if err := json.Unmarshal(data, &st); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed status response: %v\n", err)
		return 1
	}

	printStatus(&st)
	return 0
}

// printStatus pretty-prints a node status.
func printStatus(st *raft.Status) {
	fmt.Printf("Node:            %d (%s)\n", st.ID, st.State)
	fmt.Printf("Term:            %d\n", st.Term)
	if st.LeaderID != 0 {
		fmt.Printf("Leader:          %d (%s)\n", st.LeaderID, st.LeaderAddr)
	} else {
		fmt.Printf("Leader:          unknown\n")
	}
	fmt.Printf("Commit index:    %d\n", st.CommitIndex)
	fmt.Printf("Last applied:    %d\n", st.LastApplied)
	fmt.Printf("Last log:        index %d, term %d\n", st.LastLogIndex, st.LastLogTerm)
	fmt.Printf("Snapshot index:  %d\n", st.SnapshotIndex)

	ids := make([]uint64, 0, len(st.Members))
	for id := range st.Members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fmt.Println("Members:")
	for _, id := range ids {
		marker := " "
		if id == st.LeaderID {
			marker = "*"
		}
		fmt.Printf("  %s %d  %s\n", marker, id, st.Members[id])
	}

	if len(st.Joint) > 0 {
		jointIDs := make([]uint64, 0, len(st.Joint))
		for id := range st.Joint {
			jointIDs = append(jointIDs, id)
		}
		sort.Slice(jointIDs, func(i, j int) bool { return jointIDs[i] < jointIDs[j] })

		fmt.Println("Joint (transitioning to):")
		for _, id := range jointIDs {
			fmt.Printf("    %d  %s\n", id, st.Joint[id])
		}
	}
}

// memberCmd handles the member command.
func memberCmd(args []string) int {
	if len(args) == 0 {
		printMemberUsage(os.Stdout)
		return 0
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printMemberUsage(os.Stdout)
		return 0
	}

	switch args[0] {
	case "add":
		return memberAddCmd(args[1:])
	case "remove":
		return memberRemoveCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown member subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Run 'kurul member help' for usage.")
		return 1
	}
}

// memberAddCmd handles the member add subcommand.
func memberAddCmd(args []string) int {
	fs := flag.NewFlagSet("member add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	id := fs.Uint64("id", 0, "New member's node ID")
	address := fs.String("address", "", "New member's consensus address")
	addr := fs.String("addr", defaultAPIAddr, "API address of a cluster node")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printMemberAddUsage(os.Stdout)
		return 0
	}

	if *id == 0 || *address == "" {
		fmt.Fprintln(os.Stderr, "Error: -id and -address are required")
		return 1
	}

	body, err := json.Marshal(httpapi.AddMemberRequest{ID: *id, Address: *address})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	client := newAPIClient(*addr)
	status, data, err := client.do(http.MethodPost, "/v1/members", body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printAPIError(status, data)
		return 1
	}

	fmt.Printf("Member %d added\n", *id)
	return 0
}

// memberRemoveCmd handles the member remove subcommand.
func memberRemoveCmd(args []string) int {
	fs := flag.NewFlagSet("member remove", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	id := fs.Uint64("id", 0, "Member's node ID")
	addr := fs.String("addr", defaultAPIAddr, "API address of a cluster node")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printMemberRemoveUsage(os.Stdout)
		return 0
	}

	if *id == 0 {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		return 1
	}

	client := newAPIClient(*addr)
	status, data, err := client.do(http.MethodDelete, "/v1/members/"+strconv.FormatUint(*id, 10), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printAPIError(status, data)
		return 1
	}

	fmt.Printf("Member %d removed\n", *id)
	return 0
}

// snapshotCmd handles the snapshot command.
func snapshotCmd(args []string) int {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	addr := fs.String("addr", defaultAPIAddr, "API address of a cluster node")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printSnapshotUsage(os.Stdout)
		return 0
	}

	client := newAPIClient(*addr)
	status, data, err := client.do(http.MethodPost, "/v1/snapshot", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printAPIError(status, data)
		return 1
	}

	var snap httpapi.SnapshotResponse
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed snapshot response: %v\n", err)
		return 1
	}

	fmt.Printf("Snapshot created at index %d\n", snap.Index)
	return 0
}
