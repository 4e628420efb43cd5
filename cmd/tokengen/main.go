// Package main provides a CLI for generating local test credentials for the
// framewise API: service tokens for the admission endpoints and signature
// headers for billing webhook deliveries.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"framewise/internal/billing/signature"
	platformMW "framewise/internal/platform/middleware"
)

const (
	// Dev-only defaults; the server reads real secrets from the environment.
	devServiceSecret = "dev-internal-secret-change-me"
	devWebhookSecret = "whsec_dev"

	defaultServiceName = "cms"
	defaultTokenTTL    = 15 * time.Minute
	defaultServerURL   = "http://localhost:8080"
)

type output struct {
	Value string            `json:"value"`
	Type  string            `json:"type"`
	Info  map[string]any    `json:"info,omitempty"`
	Usage map[string]string `json:"usage"`
}

func main() {
	serviceCmd := flag.NewFlagSet("service", flag.ExitOnError)
	serviceName := serviceCmd.String("name", defaultServiceName, "Calling service name (svc claim)")
	serviceSecret := serviceCmd.String("secret", envOr("INTERNAL_JWT_SECRET", devServiceSecret), "HS256 signing secret")
	serviceTTL := serviceCmd.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	serviceJSON := serviceCmd.Bool("json", false, "Output as JSON")

	signCmd := flag.NewFlagSet("sign", flag.ExitOnError)
	signFile := signCmd.String("file", "-", "Webhook body to sign, or - for stdin")
	signSecret := signCmd.String("secret", firstSecret(), "Webhook signing secret")
	signSkew := signCmd.Duration("skew", 0, "Shift the signed timestamp, e.g. -10m for a stale signature")
	signJSON := signCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "service":
		serviceCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		generateServiceToken(*serviceName, *serviceSecret, *serviceTTL, *serviceJSON)
	case "sign":
		signCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		signWebhook(*signFile, *signSecret, *signSkew, *signJSON)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Generate local test credentials for framewise

WARNING: Defaults use dev secrets. Only use for local development and testing.

Usage:
  tokengen <command> [flags]

Commands:
  service   Generate a service token for /v1/admission/*
  sign      Generate a Stripe-Signature header for a webhook body

Examples:
  # Service token for the CMS
  tokengen service

  # Sign a fixture and post it
  tokengen sign -file testdata/checkout.json

  # Produce a stale signature to exercise the tolerance check
  tokengen sign -file testdata/checkout.json -skew -10m

Use "tokengen <command> -h" for more information about a command.`)
}

func generateServiceToken(name, secret string, ttl time.Duration, jsonOutput bool) {
	now := time.Now()
	token, err := platformMW.IssueServiceToken(secret, name, ttl, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(output{
			Value: token,
			Type:  "service_token",
			Info: map[string]any{
				"svc":        name,
				"expires_at": now.Add(ttl).UTC().Format(time.RFC3339),
			},
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
		return
	}

	fmt.Println("Service Token (HS256)")
	fmt.Println("=====================")
	fmt.Printf("Service:    %s\n", name)
	fmt.Printf("Expires In: %s\n", ttl)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  curl -H \"Authorization: Bearer <token>\" -d '{\"operation\":\"write:invite\",\"identity\":\"203.0.113.5\"}' %s/v1/admission/check\n", defaultServerURL)
}

func signWebhook(path, secret string, skew time.Duration, jsonOutput bool) {
	body, err := readBody(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading body: %v\n", err)
		os.Exit(1)
	}

	header := signature.Sign(body, secret, time.Now().Add(skew))

	if jsonOutput {
		printJSON(output{
			Value: header,
			Type:  "webhook_signature",
			Info: map[string]any{
				"body_bytes": len(body),
				"skew":       skew.String(),
			},
			Usage: map[string]string{
				"header": signature.HeaderName + ": <value>",
			},
		})
		return
	}

	fmt.Println(header)
	fmt.Fprintf(os.Stderr, "\nUsage:\n  curl -H '%s: <value>' --data-binary @%s %s/webhooks/billing\n",
		signature.HeaderName, path, defaultServerURL)
}

func readBody(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func firstSecret() string {
	for _, s := range strings.Split(os.Getenv("BILLING_WEBHOOK_SECRETS"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return devWebhookSecret
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
