package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"deedmarket/crypto"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("DEEDMARKET_RPC_TOKEN")

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func main() {
	args := os.Args[1:]
	if len(args) >= 2 && args[0] == "--rpc" {
		rpcEndpoint = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey(args[1:])
	case "address":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a key file.")
			return
		}
		printAddress(args[1])
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			return
		}
		call("bank_getBalance", map[string]interface{}{"address": args[1]})
	case "register-asset":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an owner address and a 32-byte hex metadata hash.")
			return
		}
		call("registry_register", map[string]interface{}{"owner": args[1], "metaHash": args[2]})
	case "verify-asset":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an asset id and the verifier address.")
			return
		}
		call("registry_verify", map[string]interface{}{"id": parseID(args[1]), "caller": args[2]})
	case "list-asset":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an asset id, the owner address and a price.")
			return
		}
		call("registry_setListed", map[string]interface{}{"id": parseID(args[1]), "caller": args[2], "price": args[3]})
	case "asset":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an asset id.")
			return
		}
		call("registry_get", map[string]interface{}{"id": parseID(args[1])})
	case "create-auction":
		if len(args) < 6 {
			fmt.Println("Error: usage is create-auction <assetId> <seller> <startingPrice> <bidIncrement> <durationSeconds> [reservePrice]")
			return
		}
		params := map[string]interface{}{
			"assetId":         parseID(args[1]),
			"seller":          args[2],
			"startingPrice":   args[3],
			"bidIncrement":    args[4],
			"durationSeconds": parseID(args[5]),
		}
		if len(args) > 6 {
			params["reservePrice"] = args[6]
		}
		call("auction_create", params)
	case "bid":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an auction id, the bidder address and an amount.")
			return
		}
		call("auction_placeBid", map[string]interface{}{"id": parseID(args[1]), "bidder": args[2], "amount": args[3]})
	case "end-auction":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an auction id.")
			return
		}
		call("auction_end", map[string]interface{}{"id": parseID(args[1])})
	case "withdraw-bid":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an auction id and the caller address.")
			return
		}
		call("auction_withdrawBid", map[string]interface{}{"id": parseID(args[1]), "caller": args[2]})
	case "auctions":
		call("auction_list", nil)
	case "create-escrow":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an asset id, the buyer address and the exact listing price.")
			return
		}
		call("escrow_create", map[string]interface{}{"assetId": parseID(args[1]), "buyer": args[2], "amount": args[3]})
	case "escrow-status":
		if len(args) < 4 {
			fmt.Println("Error: Please provide a transaction id, the caller address and the target status.")
			return
		}
		call("escrow_updateStatus", map[string]interface{}{"id": parseID(args[1]), "caller": args[2], "status": args[3]})
	case "complete-escrow":
		if len(args) < 3 {
			fmt.Println("Error: Please provide a transaction id and the caller address.")
			return
		}
		call("escrow_complete", map[string]interface{}{"id": parseID(args[1]), "caller": args[2]})
	case "cancel-escrow":
		if len(args) < 3 {
			fmt.Println("Error: Please provide a transaction id and the caller address.")
			return
		}
		params := map[string]interface{}{"id": parseID(args[1]), "caller": args[2]}
		if len(args) > 3 {
			params["reason"] = strings.Join(args[3:], " ")
		}
		call("escrow_cancel", params)
	case "events":
		after := uint64(0)
		if len(args) > 1 {
			after = parseID(args[1])
		}
		call("events_poll", map[string]interface{}{"after": after})
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: deedmarket-cli [--rpc <endpoint>] <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key [file]                      Generate a new key and print its address")
	fmt.Println("  address <keyfile>                        Print the address for a stored key")
	fmt.Println("  balance <address>                        Query an account balance")
	fmt.Println("  register-asset <owner> <metaHash>        Register a property record")
	fmt.Println("  verify-asset <id> <verifier>             Mark a property as verified")
	fmt.Println("  list-asset <id> <owner> <price>          List a verified property for sale")
	fmt.Println("  asset <id>                               Show a property record")
	fmt.Println("  create-auction <assetId> <seller> <startingPrice> <bidIncrement> <durationSeconds> [reservePrice]")
	fmt.Println("  bid <id> <bidder> <amount>               Place a bid")
	fmt.Println("  end-auction <id>                         Finalize an expired auction")
	fmt.Println("  withdraw-bid <id> <caller>               Withdraw an outbid deposit")
	fmt.Println("  auctions                                 List all auctions")
	fmt.Println("  create-escrow <assetId> <buyer> <amount> Open a staged escrow purchase")
	fmt.Println("  escrow-status <id> <caller> <status>     Advance an escrow transaction")
	fmt.Println("  complete-escrow <id> <caller>            Complete an escrow transaction")
	fmt.Println("  cancel-escrow <id> <caller> [reason]     Cancel an escrow transaction")
	fmt.Println("  events [after]                           Poll emitted events")
}

func generateKey(args []string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	file := "wallet.key"
	if len(args) > 0 {
		file = args[0]
	}
	if err := os.WriteFile(file, []byte(hex.EncodeToString(key.Bytes())), 0o600); err != nil {
		fmt.Printf("Error writing key file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Key saved to %s\n", file)
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
}

func printAddress(file string) {
	raw, err := os.ReadFile(file)
	if err != nil {
		fmt.Printf("Error reading key file: %v\n", err)
		os.Exit(1)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		fmt.Printf("Error decoding key file: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		fmt.Printf("Error parsing key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key.PubKey().Address().String())
}

func parseID(value string) uint64 {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid numeric argument %q\n", value)
		os.Exit(1)
	}
	return id
}

func call(method string, params map[string]interface{}) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("Error encoding request: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error building request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error calling node: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}
