package harness

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/umputun/commons-uitest/settings"
)

// LoginFunc authenticates the page as the owner of creds and returns once the browser is back on baseURL.
type LoginFunc func(page playwright.Page, baseURL string, creds settings.Credentials) error

// The locators below follow the Auth0 Lock flow as configured for Gen3 commons.
// Other identity providers or Lock configurations will not match.

// LoginButton is the "Login" button of the portal top bar.
func LoginButton(page playwright.Page) playwright.Locator {
	return page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{Name: "Login"})
}

// LogoutButton is the "Logout" button shown to authenticated users.
func LogoutButton(page playwright.Page) playwright.Locator {
	return page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{Name: "Logout"})
}

// ProviderButton is the exact "LOGIN" button of the portal login page which opens the provider widget.
func ProviderButton(page playwright.Page) playwright.Locator {
	return page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{Name: "LOGIN", Exact: playwright.Bool(true)})
}

// EmailField is the widget email textbox.
func EmailField(page playwright.Page) playwright.Locator {
	return page.GetByRole(*playwright.AriaRoleTextbox, playwright.PageGetByRoleOptions{Name: "Email address"})
}

// PasswordField is the widget password textbox.
func PasswordField(page playwright.Page) playwright.Locator {
	return page.GetByRole(*playwright.AriaRoleTextbox, playwright.PageGetByRoleOptions{Name: "Password"})
}

// ContinueButton submits the widget form.
func ContinueButton(page playwright.Page) playwright.Locator {
	return page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{Name: "Continue", Exact: playwright.Bool(true)})
}

// PasswordError is the element the widget reports rejected credentials in.
func PasswordError(page playwright.Page) playwright.Locator {
	return page.Locator("#error-element-password")
}

// OpenLoginWidget clicks through the top bar and the login page to the provider widget.
func OpenLoginWidget(page playwright.Page) error {
	if err := LoginButton(page).Click(); err != nil {
		return fmt.Errorf("click Login: %w", err)
	}
	if err := ProviderButton(page).Click(); err != nil {
		return fmt.Errorf("click LOGIN: %w", err)
	}
	return nil
}

// Login opens baseURL, goes through the identity provider widget with creds and waits
// for the redirect back to baseURL. Every step is bounded by the page default timeout.
// Errors never include credential values.
func Login(page playwright.Page, baseURL string, creds settings.Credentials) error {
	if !creds.Complete() {
		return fmt.Errorf("incomplete credentials")
	}
	if _, err := page.Goto(baseURL); err != nil {
		return fmt.Errorf("open %s: %w", baseURL, err)
	}
	if err := OpenLoginWidget(page); err != nil {
		return err
	}
	if err := EmailField(page).Fill(creds.Username.Value()); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := PasswordField(page).Fill(creds.Password.Value()); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := ContinueButton(page).Click(); err != nil {
		return fmt.Errorf("click Continue: %w", err)
	}
	if err := page.WaitForURL(strings.TrimSuffix(baseURL, "/") + "/**"); err != nil {
		return fmt.Errorf("wait for redirect to %s: %w", baseURL, err)
	}
	return nil
}

// RandomPrintable returns n characters drawn from code points 33..125, punctuation included.
func RandomPrintable(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		sb.WriteByte(byte(33 + rand.IntN(93))) //nolint:gosec // not a secret
	}
	return sb.String()
}
