package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"authtoken/internal/app"
)

type command func(ctx context.Context, application *app.App, args []string, out io.Writer) error

var commands = map[string]command{
	"reset":         resetCmd,
	"check-reset":   checkResetCmd,
	"consume-reset": consumeResetCmd,
	"verify-email":  verifyEmailCmd,
	"confirm-email": confirmEmailCmd,
	"issue":         issueCmd,
	"refresh":       refreshCmd,
	"revoke":        revokeCmd,
	"sweep":         sweepCmd,
}

func resetCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	user := fs.String("user", "", "user id (hex object id)")
	email := fs.String("email", "", "address to mail the token to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := parseUserID(*user)
	if err != nil {
		return err
	}

	token, err := application.Tokens.RequestPasswordReset(ctx, userID, *email)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, token)
	return err
}

func checkResetCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	token, err := tokenFlag("check-reset", args)
	if err != nil {
		return err
	}

	userID, err := application.Tokens.ValidatePasswordReset(ctx, token)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, userID.Hex())
	return err
}

func consumeResetCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	token, err := tokenFlag("consume-reset", args)
	if err != nil {
		return err
	}

	userID, err := application.Tokens.ConsumePasswordReset(ctx, token)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, userID.Hex())
	return err
}

func verifyEmailCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify-email", flag.ContinueOnError)
	user := fs.String("user", "", "user id (hex object id)")
	email := fs.String("email", "", "address to mail the token to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := parseUserID(*user)
	if err != nil {
		return err
	}

	token, err := application.Tokens.RequestEmailVerification(ctx, userID, *email)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, token)
	return err
}

func confirmEmailCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	token, err := tokenFlag("confirm-email", args)
	if err != nil {
		return err
	}

	userID, err := application.Tokens.ConfirmEmailVerification(ctx, token)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, userID.Hex())
	return err
}

func issueCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	userID, err := userFlag("issue", args)
	if err != nil {
		return err
	}

	pair, err := application.Tokens.IssueAuthTokens(ctx, userID)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "access_token=%s\nrefresh_token=%s\n", pair.AccessToken, pair.RefreshToken)
	return err
}

func refreshCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	token, err := tokenFlag("refresh", args)
	if err != nil {
		return err
	}

	pair, err := application.Tokens.RefreshAuthTokens(ctx, token)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "access_token=%s\nrefresh_token=%s\n", pair.AccessToken, pair.RefreshToken)
	return err
}

func revokeCmd(ctx context.Context, application *app.App, args []string, _ io.Writer) error {
	userID, err := userFlag("revoke", args)
	if err != nil {
		return err
	}

	return application.Tokens.RevokeAuthTokens(ctx, userID)
}

func sweepCmd(ctx context.Context, application *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "keep sweeping at sweep_interval until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*watch {
		cleared, err := application.Tokens.SweepExpired(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "cleared=%d\n", cleared)
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- application.Sweeper.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		application.Sweeper.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return <-errCh
	case <-time.After(10 * time.Second):
		return fmt.Errorf("sweeper did not stop in time")
	}
}

func tokenFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	token := fs.String("token", "", "token value")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *token == "" {
		return "", fmt.Errorf("%s: -token is required", name)
	}
	return *token, nil
}

func userFlag(name string, args []string) (bson.ObjectID, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	user := fs.String("user", "", "user id (hex object id)")
	if err := fs.Parse(args); err != nil {
		return bson.NilObjectID, err
	}
	return parseUserID(*user)
}

func parseUserID(v string) (bson.ObjectID, error) {
	if v == "" {
		return bson.NilObjectID, fmt.Errorf("-user is required")
	}
	id, err := bson.ObjectIDFromHex(v)
	if err != nil {
		return bson.NilObjectID, fmt.Errorf("invalid user id %q: %w", v, err)
	}
	return id, nil
}
