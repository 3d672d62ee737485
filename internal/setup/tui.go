package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Figu3/sonic-earn-recovery-system/config"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const generatedConfig = "run.gen.yaml"

// RunTUI launches the terminal wizard and writes a run config. Wrapper
// descriptors and redirects are list-valued and added by editing the
// generated file afterwards.
func RunTUI() error {
	var (
		rpcURL      string
		heightStr   string
		chainIDStr  string
		treeMode    string
		outDir      string
		workersStr  string
		deadlineStr string
		verifying   string
		walDir      string
		listenAddr  string
		confirm     bool
	)

	tokenA := tokenAnswers{symbol: "aUSD", decimalsStr: "6", deployStr: "0"}
	tokenB := tokenAnswers{symbol: "aETH", decimalsStr: "18", deployStr: "0"}

	// defaults
	rpcURL = "https://rpc.soniclabs.com"
	chainIDStr = "146"
	outDir = "dist"
	workersStr = "8"
	deadlineStr = "2160h"
	walDir = "claimlog"
	listenAddr = ":8080"

	// step 1: chain
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("RECOVERY CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Pin a snapshot and describe the claim tokens.\n"))

	fmt.Println(stepStyle.Render("STEP 1: CHAIN"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("RPC Endpoint").
				Description("Archive node URL, must serve state at the snapshot height").
				Value(&rpcURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("rpc endpoint cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Snapshot Height").
				Description("Block number the whole run is pinned to").
				Value(&heightStr).
				Validate(validateBlockNumber),
			huh.NewInput().
				Title("Chain ID").
				Description("Used in the waiver signing domain (Sonic mainnet is 146)").
				Value(&chainIDStr).
				Validate(validateUint),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2 and 3: the two claim tokens
	if err := tokenForm("STEP 2: CLAIM TOKEN A", &tokenA); err != nil {
		return err
	}
	if err := tokenForm("STEP 3: CLAIM TOKEN B", &tokenB); err != nil {
		return err
	}

	// step 4: distribution
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RECOVERY CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: DISTRIBUTION"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Merkle tree layout").
				Options(
					huh.NewOption("Per token (one tree per token, smaller proofs)", "per-token"),
					huh.NewOption("Joint (one tree, both shares per leaf)", "joint"),
				).
				Value(&treeMode),
			huh.NewInput().
				Title("Artifact Directory").
				Description("Where snapshot and distribution files are written").
				Value(&outDir),
			huh.NewInput().
				Title("Chain Read Workers").
				Description("Concurrent RPC calls during resolution").
				Value(&workersStr).
				Validate(validateUint),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 5: claim service
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RECOVERY CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 5: CLAIM SERVICE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Claim Deadline").
				Description("How long a round stays claimable (e.g. 720h, 2160h)").
				Value(&deadlineStr).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewInput().
				Title("Waiver Verifying Contract").
				Description("Optional address bound into waiver signatures").
				Value(&verifying).
				Validate(validateOptionalAddress),
			huh.NewInput().
				Title("Journal Directory").
				Description("Append-only claim journal location").
				Value(&walDir),
			huh.NewInput().
				Title("Listen Address").
				Description("Claim API bind address").
				Value(&listenAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RECOVERY CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"RPC: %s\nHeight: %s\nToken A: %s (%s)\nToken B: %s (%s)\nTrees: %s\nDeadline: %s\nListen: %s\n",
		rpcURL, heightStr, tokenA.symbol, tokenA.address, tokenB.symbol, tokenB.address,
		treeMode, deadlineStr, listenAddr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	height, _ := strconv.ParseUint(heightStr, 10, 64)
	chainID, _ := strconv.ParseInt(chainIDStr, 10, 64)
	workers, _ := strconv.Atoi(workersStr)
	deadline, _ := time.ParseDuration(deadlineStr)

	cfgTmp := config.ConfigTmp{
		RPCURL:         rpcURL,
		SnapshotHeight: height,
		TokenA:         tokenA.tmp(),
		TokenB:         tokenB.tmp(),
		Workers:        workers,
		OutDir:         outDir,
		TreeMode:       treeMode,
		Claim: config.ClaimTmp{
			ChainID:           chainID,
			VerifyingContract: verifying,
			DeadlineTTL:       deadline,
			WALDir:            walDir,
		},
		Server: config.ServerTmp{Addr: listenAddr},
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if _, err := config.Parse(data); err != nil {
		return fmt.Errorf("generated config does not validate: %w", err)
	}

	if err := os.WriteFile(generatedConfig, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nAdd wrapper descriptors and redirects by editing the file, then run 'recovery snapshot'.", generatedConfig)))
	return nil
}

type tokenAnswers struct {
	symbol      string
	address     string
	decimalsStr string
	deployStr   string
}

func (a tokenAnswers) tmp() config.TokenTmp {
	decimals, _ := strconv.ParseUint(a.decimalsStr, 10, 8)
	deploy, _ := strconv.ParseUint(a.deployStr, 10, 64)
	return config.TokenTmp{
		Symbol:      a.symbol,
		Address:     a.address,
		Decimals:    uint8(decimals),
		DeployBlock: deploy,
	}
}

func tokenForm(step string, a *tokenAnswers) error {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("RECOVERY CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbol").
				Value(&a.symbol).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("symbol cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Contract Address").
				Value(&a.address).
				Validate(validateAddress),
			huh.NewInput().
				Title("Decimals").
				Value(&a.decimalsStr).
				Validate(func(s string) error {
					n, err := strconv.ParseUint(s, 10, 8)
					if err != nil || n > 30 {
						return fmt.Errorf("must be an integer between 0 and 30")
					}
					return nil
				}),
			huh.NewInput().
				Title("Deploy Block").
				Description("Transfer scans start here; 0 scans from genesis").
				Value(&a.deployStr).
				Validate(validateUint),
		),
	).Run()
}

func validateAddress(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("must be a 0x-prefixed 20-byte hex address")
	}
	return nil
}

func validateOptionalAddress(s string) error {
	if s == "" {
		return nil
	}
	return validateAddress(s)
}

func validateBlockNumber(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("must be a block number")
	}
	if n == 0 {
		return fmt.Errorf("snapshot height cannot be zero")
	}
	return nil
}

func validateUint(s string) error {
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}
