package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/gpio"
	"github.com/thatsimonsguy/uf-controller/internal/model"
)

var execCommand = exec.Command

// WriteStartupScript writes a bash script that drives every relay pin to its
// off level, so the plant comes up with all valves closed and pumps stopped
// before the controller starts.
func WriteStartupScript(cfg config.Config) error {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# UF relay pin configuration at boot", "")

	write := func(label string, pin model.GPIOPin, active bool) {
		drive := "dl"
		if pin.ActiveHigh == active {
			drive = "dh"
		}
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, drive))
		lines = append(lines, "")
	}

	for _, spec := range gpio.SpecsFromConfig(cfg) {
		write(spec.Label, spec.Pin, false)
	}

	contents := strings.Join(lines, "\n") + "\n"
	path := cfg.System.BootScriptPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(contents), 0755); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Boot script written")
	return nil
}

func InstallStartupService(cfg config.Config) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure UF relay pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, cfg.System.BootScriptPath)

	return os.WriteFile(cfg.System.StartupServicePath, []byte(unitContents), 0644)
}

func InstallMainService(cfg config.Config) error {
	gpioUnitName := filepath.Base(cfg.System.StartupServicePath)

	unit := fmt.Sprintf(`[Unit]
Description=UF plant controller
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
KillSignal=SIGTERM
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, cfg.System.ServiceUser, cfg.System.WorkDir, cfg.System.ExecStart)

	return os.WriteFile(cfg.System.MainServicePath, []byte(unit), 0644)
}

func RunStartupScript(cfg config.Config) error {
	cmd := execCommand("/bin/bash", cfg.System.BootScriptPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Install writes the boot script and both unit files.
func Install(cfg config.Config) error {
	if err := WriteStartupScript(cfg); err != nil {
		return fmt.Errorf("failed to write boot script: %w", err)
	}
	if err := InstallStartupService(cfg); err != nil {
		return fmt.Errorf("failed to install startup service: %w", err)
	}
	if err := InstallMainService(cfg); err != nil {
		return fmt.Errorf("failed to install main service: %w", err)
	}
	log.Info().
		Str("startup_unit", cfg.System.StartupServicePath).
		Str("main_unit", cfg.System.MainServicePath).
		Msg("Systemd units installed")
	return nil
}
