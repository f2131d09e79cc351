package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/parallaxhq/license-server/internal/api/http/dto"
	"github.com/parallaxhq/license-server/internal/audit"
	"github.com/parallaxhq/license-server/internal/keycodec"
	"github.com/parallaxhq/license-server/internal/signer"
)

// runKeygen prints a fresh signing seed and the matching public key. The
// seed goes into LICENSE_SIGNING_SEED on the server; the public key gets
// embedded in client builds.
func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, priv, err := signer.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	seed := priv.Seed()

	fmt.Printf("Signing seed (keep secret):  %s\n", hex.EncodeToString(seed))
	fmt.Printf("Public key (embed in app):   %s\n", base64.StdEncoding.EncodeToString(pub))
	return nil
}

func runMint(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	server := fs.String("server", serverFromEnv(), "License server URL")
	apiKey := fs.String("api-key", os.Getenv("ADMIN_API_KEY"), "Admin API key")
	email := fs.String("email", "", "Customer email")
	tier := fs.String("tier", "pro", "License tier (free|pro|team|enterprise)")
	maxActivations := fs.Int("max-activations", 0, "Activation quota (0 = tier default)")
	expires := fs.String("expires", "", "Expiry date (RFC 3339), empty for perpetual")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	req := dto.MintLicenseRequest{
		Email:          *email,
		Tier:           *tier,
		MaxActivations: *maxActivations,
	}
	if *expires != "" {
		t, err := time.Parse(time.RFC3339, *expires)
		if err != nil {
			return fmt.Errorf("parse --expires: %w", err)
		}
		req.ExpiresAt = &t
	}

	var lic dto.LicenseResponse
	if err := callAdmin(*server, *apiKey, http.MethodPost, "/api/admin/licenses", req, &lic); err != nil {
		return err
	}

	if !keycodec.ValidateFormat(lic.Key) {
		return fmt.Errorf("server returned a malformed key: %q", lic.Key)
	}

	fmt.Printf("Key:       %s\n", lic.Key)
	fmt.Printf("Tier:      %s\n", lic.Tier)
	fmt.Printf("Quota:     %d activations\n", lic.MaxActivations)
	if lic.ExpiresAt != nil {
		fmt.Printf("Expires:   %s\n", lic.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Printf("Expires:   never\n")
	}
	if lic.SignedPayload != "" {
		fmt.Printf("Signed:    %s\n", lic.SignedPayload)
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	server := fs.String("server", serverFromEnv(), "License server URL")
	apiKey := fs.String("api-key", os.Getenv("ADMIN_API_KEY"), "Admin API key")
	limit := fs.Int("limit", 50, "Page size")
	offset := fs.Int("offset", 0, "Page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := fmt.Sprintf("/api/admin/licenses?limit=%d&offset=%d", *limit, *offset)
	var resp dto.ListLicensesResponse
	if err := callAdmin(*server, *apiKey, http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	fmt.Printf("%-26s %-12s %-10s %7s  %s\n", "KEY", "TIER", "STATUS", "SLOTS", "EMAIL")
	for _, lic := range resp.Licenses {
		fmt.Printf("%-26s %-12s %-10s %3d/%-3d  %s\n",
			lic.Key, lic.Tier, lic.Status, lic.CurrentActivations, lic.MaxActivations, lic.Email)
	}
	fmt.Printf("\n%d of %d licenses\n", len(resp.Licenses), resp.Total)
	return nil
}

func runTransition(action string, args []string) error {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	server := fs.String("server", serverFromEnv(), "License server URL")
	apiKey := fs.String("api-key", os.Getenv("ADMIN_API_KEY"), "Admin API key")
	key := fs.String("key", "", "License key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return fmt.Errorf("--key is required")
	}

	var lic dto.LicenseResponse
	path := fmt.Sprintf("/api/admin/licenses/%s/%s", *key, action)
	if err := callAdmin(*server, *apiKey, http.MethodPost, path, nil, &lic); err != nil {
		return err
	}

	fmt.Printf("%s: %s -> %s\n", action, lic.Key, lic.Status)
	return nil
}

func runVerifyAudit(args []string) error {
	fs := flag.NewFlagSet("verify-audit", flag.ExitOnError)
	dir := fs.String("dir", "audit", "Audit log directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := audit.NewChainLog(*dir)
	if err != nil {
		return err
	}
	if err := log.Verify(); err != nil {
		return err
	}

	events, err := log.Events()
	if err != nil {
		return err
	}
	fmt.Printf("Audit chain intact: %d entries\n", len(events))
	return nil
}

func serverFromEnv() string {
	_ = godotenv.Load()
	if url := os.Getenv("LICENSE_SERVER_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func callAdmin(server, apiKey, method, path string, body, out any) error {
	if apiKey == "" {
		return fmt.Errorf("admin API key required (--api-key or ADMIN_API_KEY)")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, server+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr dto.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server rejected request (HTTP %d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server rejected request (HTTP %d): %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
