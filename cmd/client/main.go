package main

import (
	"context"
	"fmt"
	"os"

	"cadence-diary-server/internal/client"
	"cadence-diary-server/internal/domain"

	"golang.org/x/term"
)

// Terminal diary client. Keystrokes are captured in raw mode so the recorder
// sees their timing; the controller decides when a buffered pattern is worth
// sending for verification.

func main() {
	serverURL := os.Getenv("DIARY_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	cfg := client.DefaultControllerConfig()

	api, err := client.NewAPIClient(serverURL, cfg.RequestTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create API client: %v\n", err)
		os.Exit(1)
	}

	recorder := client.NewRecorder()
	controller := client.NewController(api, recorder, cfg)
	controller.Initialize()

	ctx := context.Background()
	defer controller.Teardown(ctx)

	if err := run(ctx, controller); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, controller *client.Controller) error {
	fmt.Println("Type your identifier and press Enter. Your typing rhythm is the password.")

	status, err := loginLoop(ctx, controller)
	if err != nil {
		return err
	}

	if status == domain.AuthUserNotFound {
		fmt.Println("No account with that rhythm history. Retype your identifier to create one.")
		if err := createAccountLoop(ctx, controller); err != nil {
			return err
		}
	}

	fmt.Println("Identified. Start writing; your rhythm keeps you signed in.")
	return noteLoop(ctx, controller)
}

func loginLoop(ctx context.Context, controller *client.Controller) (domain.AuthStatus, error) {
	for {
		var resp *domain.LoginResponse
		_, err := readLine(func(key rune, typed string) {
			r, _ := controller.LoginKeystroke(ctx, key, typed)
			if r != nil {
				resp = r
				showRings(controller.LoginRings())
			}
		})
		if err != nil {
			return "", err
		}

		if resp == nil {
			// The throttle had not fired yet; keep typing.
			fmt.Println("Not enough rhythm captured yet, type your identifier again.")
			continue
		}

		switch resp.AuthenticationStatus {
		case domain.AuthSuccess, domain.AuthUserNotFound:
			return resp.AuthenticationStatus, nil
		case domain.AuthFailure:
			fmt.Println("Rhythm did not match. Try again.")
			controller.ResetLoginCapture()
		case domain.AuthError:
			fmt.Println("Service unavailable, try again later.")
		}
	}
}

func createAccountLoop(ctx context.Context, controller *client.Controller) error {
	for {
		controller.ResetLoginCapture()
		if _, err := readLine(func(key rune, typed string) {
			controller.LoginKeystroke(ctx, key, typed)
		}); err != nil {
			return err
		}

		resp, err := controller.SubmitCreateAccount(ctx)
		if err != nil {
			fmt.Println(err)
			continue
		}

		switch resp.AuthenticationStatus {
		case domain.AuthSuccess:
			return nil
		case domain.AuthFailure:
			fmt.Println("The two samples did not match. Log in again to restart.")
			return fmt.Errorf("account creation failed")
		case domain.AuthError:
			fmt.Println("Service unavailable, try again later.")
			return fmt.Errorf("account creation unavailable")
		}
	}
}

func noteLoop(ctx context.Context, controller *client.Controller) error {
	var contents []rune

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return err
		}
		key := rune(buf[0])

		if key == 3 || key == 4 { // Ctrl-C / Ctrl-D
			fmt.Print("\r\n")
			return nil
		}
		if key == 127 { // backspace
			if len(contents) > 0 {
				contents = contents[:len(contents)-1]
				fmt.Print("\b \b")
			}
			continue
		}

		contents = append(contents, key)
		fmt.Print(string(key))

		resp, err := controller.NoteKeystroke(ctx, key, string(contents))
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		fmt.Print("\r\n")
		showRings(controller.Rings())
		switch resp.AuthenticationStatus {
		case domain.AuthSuccess:
			if resp.NoteData != nil {
				controller.EditNote(resp.NoteData.ID, string(contents))
			}
		case domain.AuthError:
			fmt.Print("verification service unavailable\r\n")
		}
	}
}

// readLine reads a cooked line one raw keystroke at a time so every key
// reaches the recorder with its timing intact.
func readLine(onKey func(key rune, typed string)) (string, error) {
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	var line []rune
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return "", err
		}
		key := rune(buf[0])

		switch {
		case key == '\r' || key == '\n':
			fmt.Print("\r\n")
			return string(line), nil
		case key == 3 || key == 4:
			fmt.Print("\r\n")
			return "", fmt.Errorf("interrupted")
		case key == 127:
			if len(line) > 0 {
				line = line[:len(line)-1]
				fmt.Print("\b \b")
			}
		default:
			line = append(line, key)
			fmt.Print(string(key))
			onKey(key, string(line))
		}
	}
}

func showRings(rings client.Rings) {
	fmt.Printf("update %.0f%%  match %.0f%%\r\n", rings.Update*100, rings.Match*100)
}
