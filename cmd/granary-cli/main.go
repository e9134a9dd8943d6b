package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"granary/cmd/internal/passphrase"
	"granary/crypto"
	sdk "granary/sdk/yield"
)

const keystorePassEnv = "GRANARY_KEYSTORE_PASS"

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("GRANARY_RPC_TOKEN")

func defaultRPCEndpoint() string {
	if endpoint := strings.TrimSpace(os.Getenv("RPC_URL")); endpoint != "" {
		return endpoint
	}
	return "http://127.0.0.1:8645"
}

func main() {
	args := os.Args[1:]
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	args = args[1:]
	switch command {
	case "generate-key":
		requireArgs(args, 1, "generate-key <key-file>")
		generateKey(args[0])
	case "address":
		requireArgs(args, 1, "address <key-file>")
		showAddress(args[0])
	case "pool":
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.PoolInfo(ctx)
		})
	case "sync-pool":
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.SyncPool(ctx)
		})
	case "position":
		requireArgs(args, 1, "position <address>")
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.Position(ctx, args[0])
		})
	case "pending":
		requireArgs(args, 1, "pending <address>")
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.PendingRewards(ctx, args[0])
		})
	case "history":
		requireArgs(args, 1, "history <address> [stream] [limit]")
		stream := ""
		limit := 0
		if len(args) > 1 {
			stream = args[1]
		}
		if len(args) > 2 {
			limit = parseIntArg(args[2], "limit")
		}
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.RewardHistory(ctx, args[0], stream, limit)
		})
	case "events":
		cursor := uint64(0)
		limit := 0
		if len(args) > 0 {
			cursor = uint64(parseIntArg(args[0], "cursor"))
		}
		if len(args) > 1 {
			limit = parseIntArg(args[1], "limit")
		}
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.Events(ctx, cursor, limit)
		})
	case "pending-change":
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.PendingChange(ctx)
		})
	case "stake":
		requireArgs(args, 2, "stake <payer> <amount> [beneficiary]")
		req := sdk.StakeRequest{Payer: args[0], Amount: args[1]}
		if len(args) > 2 {
			req.Beneficiary = args[2]
		}
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.Stake(ctx, req)
		})
	case "withdraw":
		requireArgs(args, 2, "withdraw <account> <amount>")
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.Withdraw(ctx, sdk.WithdrawRequest{Account: args[0], Amount: args[1]})
		})
	case "pause-withdraw":
		requireArgs(args, 2, "pause-withdraw <account> <amount>")
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.PauseWithdraw(ctx, sdk.WithdrawRequest{Account: args[0], Amount: args[1]})
		})
	case "claim":
		requireArgs(args, 1, "claim <account>")
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.Claim(ctx, args[0])
		})
	case "deliver":
		requireArgs(args, 2, "deliver <source> <amount>")
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.DeliverReward(ctx, args[0], args[1])
		})
	case "propose-target":
		requireArgs(args, 2, "propose-target <caller> <bps>")
		bps := uint64(parseIntArg(args[1], "bps"))
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.ProposeTargetBps(ctx, args[0], bps)
		})
	case "set-alpha":
		requireArgs(args, 2, "set-alpha <caller> <alpha-wad>")
		runAction(func(ctx context.Context, client *sdk.Client) error {
			return client.SetAlpha(ctx, args[0], args[1])
		})
	case "set-depletion":
		requireArgs(args, 2, "set-depletion <caller> <seconds>")
		seconds := uint64(parseIntArg(args[1], "seconds"))
		runAction(func(ctx context.Context, client *sdk.Client) error {
			return client.SetDepletionDuration(ctx, args[0], seconds)
		})
	case "set-reward-source":
		requireArgs(args, 2, "set-reward-source <caller> <address>")
		runAction(func(ctx context.Context, client *sdk.Client) error {
			return client.SetRewardSource(ctx, args[0], args[1])
		})
	case "set-pauser":
		requireArgs(args, 2, "set-pauser <caller> <address>")
		runAction(func(ctx context.Context, client *sdk.Client) error {
			return client.SetPauser(ctx, args[0], args[1])
		})
	case "pause":
		requireArgs(args, 1, "pause <caller>")
		runAction(func(ctx context.Context, client *sdk.Client) error {
			return client.Pause(ctx, args[0])
		})
	case "unpause":
		requireArgs(args, 1, "unpause <caller>")
		runAction(func(ctx context.Context, client *sdk.Client) error {
			return client.Unpause(ctx, args[0])
		})
	case "emergency-transfer":
		requireArgs(args, 2, "emergency-transfer <caller> <recipient>")
		runQuery(func(ctx context.Context, client *sdk.Client) (interface{}, error) {
			return client.EmergencyTransfer(ctx, args[0], args[1])
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", command)
		printUsage()
		os.Exit(1)
	}
}

// applyGlobalFlags strips --rpc and --token from the argument list before
// command dispatch.
func applyGlobalFlags(args []string) ([]string, error) {
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a value")
			}
			i++
			rpcEndpoint = strings.TrimSpace(args[i])
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimSpace(strings.TrimPrefix(arg, "--rpc="))
		case arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--token requires a value")
			}
			i++
			rpcAuthToken = args[i]
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			remaining = append(remaining, arg)
		}
	}
	if rpcEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint must not be empty")
	}
	return remaining, nil
}

func newClient() *sdk.Client {
	client, err := sdk.New(rpcEndpoint, sdk.WithAuthToken(rpcAuthToken))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return client
}

func runQuery(fn func(context.Context, *sdk.Client) (interface{}, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := fn(ctx, newClient())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

func runAction(fn func(context.Context, *sdk.Client) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fn(ctx, newClient()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func generateKey(path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists; refusing to overwrite\n", path)
		os.Exit(1)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to generate key: %v\n", err)
		os.Exit(1)
	}
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := (crypto.Keystore{Path: path}).Save(key, pass); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to save key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated key %s\nAddress: %s\n", path, key.PubKey().Address().String())
}

func showAddress(path string) {
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	key, err := (crypto.Keystore{Path: path}).Load(pass)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key.PubKey().Address().String())
}

func requireArgs(args []string, count int, usage string) {
	if len(args) < count {
		fmt.Fprintf(os.Stderr, "Usage: granary-cli %s\n", usage)
		os.Exit(1)
	}
}

func parseIntArg(raw, name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid %s %q\n", name, raw)
		os.Exit(1)
	}
	return value
}

func printJSON(payload interface{}) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func printUsage() {
	fmt.Println(`granary-cli - yield distribution client

Key management:
  generate-key <key-file>                 Create a passphrase-protected key
  address <key-file>                      Print the key's address

Queries:
  pool                                    Pool snapshot
  sync-pool                               Force an accumulator sync
  position <address>                      Account stake record
  pending <address>                       Unclaimed rewards
  pending-change                          Active target-yield proposal
  history <address> [stream] [limit]      Archived settlements
  events [cursor] [limit]                 Journal records

Staking:
  stake <payer> <amount> [beneficiary]
  withdraw <account> <amount>
  pause-withdraw <account> <amount>
  claim <account>

Governance and operations:
  deliver <source> <amount>
  propose-target <caller> <bps>
  set-alpha <caller> <alpha-wad>
  set-depletion <caller> <seconds>
  set-reward-source <caller> <address>
  set-pauser <caller> <address>
  pause <caller>
  unpause <caller>
  emergency-transfer <caller> <recipient>

Global flags:
  --rpc <url>     RPC endpoint (default $RPC_URL or http://127.0.0.1:8645)
  --token <tok>   Bearer token for mutating calls (default $GRANARY_RPC_TOKEN)`)
}
