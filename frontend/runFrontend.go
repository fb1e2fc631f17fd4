package frontend

import (
	"log/slog"
	"os"

	"github.com/jghoshh/goalnudge/frontend/client"
	"github.com/jghoshh/goalnudge/frontend/cmd"
	"github.com/joho/godotenv"
)

const defaultServerURL = "http://localhost:8080"

// RunFrontend starts the interactive shell against the API at SERVER_URL.
func RunFrontend(envFiles ...string) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = defaultServerURL
	}

	cmd.New(client.New(serverURL)).Execute()
}
