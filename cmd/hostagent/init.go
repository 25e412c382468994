package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/config"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
)

var (
	initForce   bool
	initNoProbe bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Create a project config and check prerequisites",
	Long: `Prepare a directory for running hostagent.

This command:
  - Writes a .hostagent.yaml template (kept if it already exists)
  - Checks whether an Anthropic API key is available
  - Probes each configured worker's agent card

Examples:
  hostagent init              # Current directory
  hostagent init ./deploy     # Specific directory
  hostagent init --force      # Overwrite an existing .hostagent.yaml
  hostagent init --no-probe   # Skip worker reachability checks`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .hostagent.yaml")
	initCmd.Flags().BoolVar(&initNoProbe, "no-probe", false, "Skip worker reachability checks")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing hostagent in %s...\n\n", absPath)

	created, err := createProjectConfig(absPath, initForce)
	if err != nil {
		return fmt.Errorf("writing project config: %w", err)
	}
	if created {
		printStatus("✓", "Created .hostagent.yaml", color.FgGreen)
	} else {
		printStatus("✓", ".hostagent.yaml already exists (use --force to overwrite)", color.FgGreen)
	}

	cfg, err := config.LoadFromPath(filepath.Join(absPath, ".hostagent.yaml"))
	if err != nil {
		printStatus("✗", fmt.Sprintf("Config does not load: %v", err), color.FgRed)
		return err
	}

	key, src := config.ResolveAPIKey(cfg)
	switch {
	case src == config.KeySourceBedrock:
		printStatus("✓", "Using AWS Bedrock credentials", color.FgGreen)
	case key != "":
		printStatus("✓", fmt.Sprintf("Anthropic API key found (%s, %s)", config.MaskAPIKey(key), src), color.FgGreen)
	case cfg.Planner.Kind == "anthropic":
		printStatus("✗", "ANTHROPIC_API_KEY not set; the anthropic planner cannot start", color.FgRed)
	default:
		printStatus("⚠", "ANTHROPIC_API_KEY not set (only needed for planner.kind: anthropic)", color.FgYellow)
	}

	if !initNoProbe {
		pool := remote.NewPool(cfg.Endpoints(), remote.WithHTTPTransport(probeTimeout, remote.RetryPolicy{MaxAttempts: 1}))
		for _, res := range pool.ProbeAll(context.Background(), probeTimeout) {
			if res.Err != nil {
				printStatus("⚠", fmt.Sprintf("Worker %s not reachable yet: %v", res.Worker, res.Err), color.FgYellow)
				continue
			}
			printStatus("✓", fmt.Sprintf("Worker %s is up (%s)", res.Worker, res.Card.Name), color.FgGreen)
		}
	}

	fmt.Printf("\n%s hostagent initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Start the workers, or try the built-in one:")
	fmt.Println("     hostagent worker --name notion_agent --addr :8002 --mode echo")
	fmt.Println("  2. Run the host:")
	fmt.Println("     hostagent serve")
	fmt.Println("  3. Talk to it:")
	fmt.Println("     hostagent chat")
	return nil
}

// createProjectConfig writes the .hostagent.yaml template. It reports
// whether a file was written.
func createProjectConfig(dir string, force bool) (bool, error) {
	configPath := filepath.Join(dir, ".hostagent.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return false, nil
	}

	template := `# hostagent project configuration
# Overrides ~/.config/hostagent/config.yaml

server:
  addr: ":8001"
  # public_url: "http://localhost:8001"   # enables worker push callbacks

workers:
  notion_agent:
    url: "http://localhost:8002"   # or NOTION_AGENT_A2A_URL
    description: "Searches and retrieves information from Notion pages, databases, and blocks."
    capability: "search your Notion workspace"
  elevenlabs_agent:
    url: "http://localhost:8003"   # or ELEVENLABS_AGENT_A2A_URL
    description: "Converts text to natural-sounding speech and returns an audio URL."
    capability: "convert it to audio"
    timeout: 45s

orchestration:
  turn_deadline: 90s
  task_timeout: 60s
  cancel_on_timeout: true

sessions:
  store: sqlite        # or memory
  driver: sqlite       # sqlite (pure Go) or sqlite3 (cgo)
  idle_ttl: 24h

planner:
  kind: rules          # or anthropic
  # rules_file: rules.yaml
`
	if err := os.WriteFile(configPath, []byte(template), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
