// Package main is a smoke test that drives a running server through the full
// tenant lifecycle: create two organizations, log in as the first admin, try to
// delete the second one with that token (must be refused), rename the first,
// store and read back a record, delete it and confirm it is gone. It exits 1 on
// the first unexpected response, so it doubles as a post-deploy check.
//
//	go run ./cmd/test-api -url http://localhost:8080
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
)

type client struct {
	base  string
	http  *http.Client
	token string
}

func (c *client) call(method, path string, body any, want int) map[string]any {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			log.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("%s %s: reading body: %v", method, path, err)
	}
	if resp.StatusCode != want {
		fmt.Printf("FAIL %s %s: status %d, want %d\n%s\n", method, path, resp.StatusCode, want, raw)
		os.Exit(1)
	}
	fmt.Printf("ok   %s %s -> %d\n", method, path, resp.StatusCode)

	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func expect(cond bool, format string, args ...any) {
	if !cond {
		fmt.Printf("FAIL "+format+"\n", args...)
		os.Exit(1)
	}
}

func main() {
	base := flag.String("url", envOr("TNT_API_URL", "http://localhost:8080"), "server base URL")
	flag.Parse()

	c := &client{base: *base, http: &http.Client{Timeout: 30 * time.Second}}

	// unique names so the scenario can run against a shared server
	run := uuid.NewString()[:8]
	acme := "Acme Corp " + run
	other := "Other Co " + run
	email := "a-" + run + "@x.com"

	c.call(http.MethodGet, "/health", nil, http.StatusOK)

	created := c.call(http.MethodPost, "/org/create", map[string]string{
		"organization_name": acme, "email": email, "password": "secure123",
	}, http.StatusCreated)
	expect(created["collection_name"] == "org_acme_corp_"+run, "collection_name = %v", created["collection_name"])

	c.call(http.MethodPost, "/org/create", map[string]string{
		"organization_name": other, "email": "o-" + run + "@x.com", "password": "secure123",
	}, http.StatusCreated)

	c.call(http.MethodPost, "/org/create", map[string]string{
		"organization_name": acme, "email": "dup-" + run + "@x.com", "password": "secure123",
	}, http.StatusConflict)

	c.call(http.MethodPost, "/admin/login", map[string]string{"email": email, "password": "wrong-pass"}, http.StatusUnauthorized)
	login := c.call(http.MethodPost, "/admin/login", map[string]string{"email": email, "password": "secure123"}, http.StatusOK)
	token, _ := login["access_token"].(string)
	expect(token != "", "login returned no access_token")
	c.token = token

	c.call(http.MethodDelete, "/org/delete", map[string]string{"organization_name": other}, http.StatusForbidden)

	renamed := acme + " Inc"
	c.call(http.MethodPut, "/org/update", map[string]string{
		"old_organization_name": acme, "new_organization_name": renamed,
	}, http.StatusOK)

	c.call(http.MethodPost, "/org/records", map[string]any{"sku": "A-1", "qty": 3}, http.StatusCreated)
	page := c.call(http.MethodGet, "/org/records", nil, http.StatusOK)
	records, _ := page["records"].([]any)
	expect(len(records) == 1, "records = %v", page["records"])

	got := c.call(http.MethodGet, "/org/get?organization_name="+url.QueryEscape(renamed), nil, http.StatusOK)
	expect(got["admin_email"] == email, "admin_email = %v", got["admin_email"])

	c.call(http.MethodDelete, "/org/delete", map[string]string{"organization_name": renamed}, http.StatusOK)
	c.call(http.MethodPost, "/org/get", map[string]string{"organization_name": renamed}, http.StatusNotFound)

	// clean up the second organization with its own admin
	c.token = ""
	login = c.call(http.MethodPost, "/admin/login", map[string]string{"email": "o-" + run + "@x.com", "password": "secure123"}, http.StatusOK)
	c.token, _ = login["access_token"].(string)
	c.call(http.MethodDelete, "/org/delete", map[string]string{"organization_name": other}, http.StatusOK)

	fmt.Println("PASS")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
