// Command market-cli provides client-side helpers for interacting with a
// marketd node: key generation, nonce generation and commitment hashing. The
// commit subcommand lets a buyer compute (and later re-check) the digest they
// submit with market_disputeDelivery without trusting the node.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"fairmarket/crypto"
	"fairmarket/market"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "gen-key":
		genKey(os.Args[2:])
	case "random-nonce":
		randomNonce()
	case "commit":
		commit(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  market-cli gen-key [-out <keystore path>]
  market-cli random-nonce
  market-cli commit -id <purchase id hex> -nonce <nonce hex> [-bit]`)
}

func genKey(args []string) {
	fs := flag.NewFlagSet("gen-key", flag.ExitOnError)
	out := fs.String("out", "", "Optional keystore path to save the key to")
	_ = fs.Parse(args)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fatal(err)
	}
	fmt.Printf("address: %s\n", key.PubKey().Address().String())
	fmt.Printf("publicKey: %s\n", hex.EncodeToString(key.PubKey().Bytes()))
	if *out != "" {
		if err := crypto.SaveToKeystore(*out, key, promptPass()); err != nil {
			fatal(err)
		}
		fmt.Printf("keystore: %s\n", *out)
	} else {
		fmt.Printf("privateKey: %s\n", hex.EncodeToString(key.Bytes()))
	}
}

func promptPass() string {
	return strings.TrimSpace(os.Getenv("MARKET_KEY_PASS"))
}

func randomNonce() {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		fatal(err)
	}
	fmt.Println(hex.EncodeToString(nonce[:]))
}

func commit(args []string) {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	idHex := fs.String("id", "", "Purchase identifier (32-byte hex)")
	nonceHex := fs.String("nonce", "", "Secret nonce (32-byte hex)")
	bit := fs.Bool("bit", false, "The secret coin-flip bit")
	_ = fs.Parse(args)

	id, err := parseHash32(*idHex)
	if err != nil {
		fatal(fmt.Errorf("invalid -id: %w", err))
	}
	nonce, err := parseHash32(*nonceHex)
	if err != nil {
		fatal(fmt.Errorf("invalid -nonce: %w", err))
	}
	digest := market.CommitBit(*bit, id, nonce)
	fmt.Println(hex.EncodeToString(digest[:]))
}

func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
