// Package main provides the account authorization tool. It runs the
// authorization-code flow against a local callback server and persists the
// resulting token pair straight into the store the server reads.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"github.com/auxbox/auxbox/internal/app/credential"
	"github.com/auxbox/auxbox/internal/infra/store"
)

var (
	app          = kingpin.New("auxbox-auth", "Spotify account authorization tool for auxbox")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	dbPath       = app.Flag("db", "Path to the store database").Default("auxbox.db").String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()
)

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx := context.Background()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", *port)
	mgr, err := credential.New(ctx, st, credential.Config{
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		RedirectURL:  redirectURL,
	})
	if err != nil {
		log.Fatalf("Failed to create credential manager: %v", err)
	}

	state := credential.NewState()
	done := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if st := r.FormValue("state"); st != state {
			http.Error(w, "State mismatch", http.StatusForbidden)
			log.Printf("State mismatch: %s", st)
			return
		}

		code := r.FormValue("code")
		if code == "" {
			http.Error(w, "Missing code", http.StatusBadRequest)
			return
		}

		if err := mgr.Exchange(r.Context(), code); err != nil {
			http.Error(w, "Failed to exchange code", http.StatusForbidden)
			log.Printf("Exchange failed: %v", err)
			return
		}

		fmt.Fprint(w, "<html><body><h1>Authorization Complete</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")
		close(done)
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	fmt.Println("Please visit the following URL to authorize auxbox:")
	fmt.Println("")
	fmt.Println(mgr.AuthURL(state))
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server: %v", err)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Printf("Credential stored in %s; the server will pick it up on start.\n", *dbPath)
}
