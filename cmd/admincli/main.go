// Package main provides the admin CLI entry point.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

var (
	app    = kingpin.New("auxbox-admincli", "auxbox jukebox admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Get jukebox status")

	// activate command
	activateCmd = app.Command("activate", "Start feeding the device from the fair queue")

	// deactivate command
	deactivateCmd = app.Command("deactivate", "Stop feeding the device")

	// list-users command
	listUsersCmd = app.Command("list-users", "List all users").Alias("users")

	// grant command
	grantCmd  = app.Command("grant", "Grant a user queue access")
	grantUser = grantCmd.Arg("username", "Username").Required().String()

	// revoke command
	revokeCmd  = app.Command("revoke", "Revoke a user's queue access")
	revokeUser = revokeCmd.Arg("username", "Username").Required().String()

	// delete-user command
	deleteUserCmd = app.Command("delete-user", "Delete a user and their requests")
	deleteUser    = deleteUserCmd.Arg("username", "Username").Required().String()

	// history command
	historyCmd  = app.Command("history", "Show play history")
	historyPage = historyCmd.Flag("page", "Page number").Default("1").Int()

	// reset-served command
	resetServedCmd = app.Command("reset-served", "Reset every user's served flag")

	// reset-played command
	resetPlayedCmd = app.Command("reset-played", "Reset every request's played flag")

	// purge-history command
	purgeHistoryCmd = app.Command("purge-history", "Delete all play history")

	// purge-credential command
	purgeCredentialCmd = app.Command("purge-credential", "Discard the stored account credential")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	switch command {
	case statusCmd.FullCommand():
		get("/status")
	case activateCmd.FullCommand():
		post("/admin/active", map[string]bool{"active": true})
	case deactivateCmd.FullCommand():
		post("/admin/active", map[string]bool{"active": false})
	case listUsersCmd.FullCommand():
		get("/admin/users")
	case grantCmd.FullCommand():
		post(fmt.Sprintf("/admin/users/%s/access", *grantUser), map[string]bool{"granted": true})
	case revokeCmd.FullCommand():
		post(fmt.Sprintf("/admin/users/%s/access", *revokeUser), map[string]bool{"granted": false})
	case deleteUserCmd.FullCommand():
		del(fmt.Sprintf("/admin/users/%s", *deleteUser))
	case historyCmd.FullCommand():
		get(fmt.Sprintf("/history?page=%d", *historyPage))
	case resetServedCmd.FullCommand():
		post("/admin/reset-served", nil)
	case resetPlayedCmd.FullCommand():
		post("/admin/reset-played", nil)
	case purgeHistoryCmd.FullCommand():
		del("/admin/history")
	case purgeCredentialCmd.FullCommand():
		del("/admin/credential")
	}
}

func get(path string) {
	do(http.MethodGet, path, nil)
}

func post(path string, body any) {
	do(http.MethodPost, path, body)
}

func del(path string) {
	do(http.MethodDelete, path, nil)
}

func do(method, path string, body any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	req, err := http.NewRequest(method, *server+path, &buf)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("X-Admin-Token", *token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if resp.StatusCode >= 400 {
		fmt.Printf("Error (%d): %s\n", resp.StatusCode, bytes.TrimSpace(data))
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(pretty.String())
}
