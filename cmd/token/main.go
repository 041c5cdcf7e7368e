// Command token seeds a user, its group memberships, and opens a session
// for it. The printed token goes into the connection URLs.
package main

import (
	"chat-dispatch/auth"
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"chat-dispatch/infrastructure/storage"
	"chat-dispatch/internal"
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	userID := flag.String("user", "", "User id to open a session for")
	displayName := flag.String("name", "", "Display name, used when the user is created")
	groupList := flag.String("groups", "", "Comma separated groups the user joins")
	flag.Parse()
	if *userID == "" {
		flag.Usage()
		return 2, nil
	}

	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return 2, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLogger(nil))
	if err != nil {
		return 1, fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	users := storage.NewUserRepository(db)
	if _, err := users.CreateUser(ctx, domain.UserID(*userID), *displayName); err != nil && !stderrors.Is(err, errors.ErrUserAlreadyExist) {
		return 1, err
	}

	groups := storage.NewGroupRepository(db, log)
	for _, g := range strings.Split(*groupList, ",") {
		if g = strings.TrimSpace(g); g == "" {
			continue
		}
		if err := groups.AddMember(ctx, domain.GroupID(g), domain.UserID(*userID)); err != nil {
			return 1, err
		}
	}

	issuer := auth.NewIssuer(auth.NewTokens(config.JwtSecret), storage.NewSessionRepository(db, log))
	token, session, err := issuer.Open(ctx, auth.OpenSessionRequest{UserID: *userID, Duration: config.SessionDuration})
	if err != nil {
		return 1, fmt.Errorf("%w: %v", errors.ErrTokenGeneration, err)
	}
	log.Debug("Session opened", "session_id", session.ID, "expires_at", session.ExpiresAt)
	fmt.Println(token)
	return 0, nil
}
