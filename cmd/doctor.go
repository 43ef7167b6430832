package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/EdibleTuber/Mother/internal/config"
	"github.com/EdibleTuber/Mother/internal/sandbox"
	"github.com/EdibleTuber/Mother/internal/tools"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor [working-directory]",
		Short: "Check environment, credentials, sandbox, and models health",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workdir := "."
			if len(args) == 1 {
				workdir = args[0]
			}
			exitCode = runDoctor(workdir)
		},
	}
}

func runDoctor(workdir string) int {
	fmt.Println("mother doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	code := exitOK

	f := flags
	f.Workdir = workdir
	cfg, err := config.Load(f)
	if err != nil {
		fmt.Printf("  Config:   ERROR (%s)\n", err)
		code = exitUsage
		// Reload without credential validation so the rest of the report
		// still prints.
		f.CLI = true
		if cfg, err = config.Load(f); err != nil {
			return exitUsage
		}
		cfg.CLI = flags.CLI
	}
	fmt.Printf("  Workspace: %s", cfg.Workspace)
	if probeWritable(cfg.Workspace) {
		fmt.Println(" (writable)")
	} else {
		fmt.Println(" (NOT WRITABLE)")
		code = exitUsage
	}

	fmt.Println()
	fmt.Println("  Chat:")
	if cfg.CLI {
		fmt.Println("    Mode:      cli (no Discord credentials needed)")
	} else {
		checkSecret("BOT_TOKEN", cfg.BotToken)
		checkSecret("GUILD_ID", cfg.GuildID)
	}

	fmt.Println()
	fmt.Println("  Model:")
	fmt.Printf("    Provider:  %s\n", cfg.Provider)
	switch cfg.Provider {
	case "anthropic":
		checkSecret("ANTHROPIC_API_KEY", cfg.AnthropicKey)
	case "openai":
		checkSecret("OPENAI_API_KEY", cfg.OpenAIKey)
	}
	if cfg.LLMURL != "" {
		fmt.Printf("    LLM_URL:   %s\n", cfg.LLMURL)
	}
	if reg, err := loadModels(cfg); err != nil {
		fmt.Printf("    Models:    ERROR (%s)\n", err)
		code = exitUsage
	} else {
		fmt.Printf("    Models:    %d registered\n", len(reg.IDs()))
	}

	fmt.Println()
	fmt.Println("  Sandbox:")
	fmt.Printf("    Mode:      %s\n", cfg.Sandbox)
	if cfg.Sandbox != sandbox.HostName {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := sandbox.New(ctx, cfg.Sandbox, cfg.Workspace); err != nil {
			fmt.Printf("    Status:    FAILED (%s)\n", err)
			code = exitSandbox
		} else {
			fmt.Println("    Status:    OK (container running)")
		}
	}

	fmt.Println()
	fmt.Println("  Delegate:")
	argv := delegateArgv(cfg.DelegateCmd)
	if len(argv) == 0 {
		argv = tools.DefaultDelegateArgv
	}
	if path, err := exec.LookPath(argv[0]); err != nil {
		fmt.Printf("    %s: NOT FOUND (delegate tool will fail)\n", argv[0])
	} else {
		fmt.Printf("    %s: %s\n", argv[0], path)
	}

	return code
}

func probeWritable(dir string) bool {
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false
	}
	os.Remove(probe)
	return true
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-10s MISSING\n", name+":")
		return
	}
	fmt.Printf("    %-10s set (%s)\n", name+":", maskSecret(value))
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..." + s[len(s)-4:]
}
