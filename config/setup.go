package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"golang.org/x/term"
)

var (
	geminiModelsURL = "https://generativelanguage.googleapis.com/v1beta/models"
	openAIModelsURL = "https://api.openai.com/v1/models"
)

// IsInteractiveTerminal returns true if both stdin and stdout are TTYs.
func IsInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RunSetupWizard asks for the provider credential that Load reported missing
// and writes it to the config file. Returns true if the server should continue starting.
func RunSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("📷 Microstock Tagger - First-time Setup"))
	fmt.Println()

	provider := strings.ToLower(os.Getenv("AI_PROVIDER"))
	if provider == "" {
		provider = ProviderGemini
	}
	var apiKey, botToken string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("AI provider").
				Options(
					huh.NewOption("Google Gemini", ProviderGemini),
					huh.NewOption("OpenAI", ProviderOpenAI),
				).
				Value(&provider),
		),
		huh.NewGroup(
			huh.NewInput().
				TitleFunc(func() string {
					if provider == ProviderOpenAI {
						return "OpenAI API Key"
					}
					return "Gemini API Key"
				}, &provider).
				DescriptionFunc(func() string {
					if provider == ProviderOpenAI {
						return "Create one at https://platform.openai.com/api-keys"
					}
					return "Get yours at https://aistudio.google.com/apikey"
				}, &provider).
				EchoMode(huh.EchoModePassword).
				Value(&apiKey).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("API key is required")
					}
					if provider == ProviderOpenAI {
						return validateOpenAIKey(s)
					}
					return validateGeminiKey(s)
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token (optional)").
				Description("Leave empty to run the web interface only").
				Value(&botToken),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"AI_PROVIDER":    provider,
		"SESSION_SECRET": generateSessionSecret(),
	}
	if provider == ProviderOpenAI {
		values["OPENAI_API_KEY"] = apiKey
	} else {
		values["GEMINI_API_KEY"] = apiKey
	}
	if botToken = strings.TrimSpace(botToken); botToken != "" {
		values["BOT_TOKEN"] = botToken
	}

	configPath, err := FilePath()
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		WaitOnWindows()
		return false
	}
	if err := WriteEnvFile(configPath, values); err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		WaitOnWindows()
		return false
	}

	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)
	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	return true
}

// WriteEnvFile merges values into the env file at path, keeping keys that are
// already present. The file holds secrets so it is written with 0600.
func WriteEnvFile(path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	merged := map[string]string{}
	if existing, err := godotenv.Read(path); err == nil {
		merged = existing
	}
	for k, v := range values {
		merged[k] = v
	}

	content, err := godotenv.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func generateSessionSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("microstock-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

func validateGeminiKey(key string) error {
	resp, err := resty.New().
		SetTimeout(10*time.Second).
		R().
		SetQueryParam("key", key).
		Get(geminiModelsURL)
	if err != nil {
		return errors.New("connection failed - check your internet")
	}
	return keyCheckResult(resp)
}

func validateOpenAIKey(key string) error {
	resp, err := resty.New().
		SetTimeout(10*time.Second).
		R().
		SetAuthToken(key).
		Get(openAIModelsURL)
	if err != nil {
		return errors.New("connection failed - check your internet")
	}
	return keyCheckResult(resp)
}

// keyCheckResult turns a models-list response into a validation error.
// Both providers report rejected keys as {"error":{"message":...}}.
func keyCheckResult(resp *resty.Response) error {
	switch resp.StatusCode() {
	case 200:
		return nil
	case 400, 401, 403:
		var result struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(resp.Body(), &result); err == nil && result.Error.Message != "" {
			return errors.New(result.Error.Message)
		}
		return fmt.Errorf("API key rejected (HTTP %d)", resp.StatusCode())
	default:
		return fmt.Errorf("unexpected response (HTTP %d)", resp.StatusCode())
	}
}

// WaitOnWindows pauses execution on Windows so users can see error messages
// before the console window closes.
func WaitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}
