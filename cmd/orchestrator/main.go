// Command orchestrator is a local dev harness: it spawns a Silo and N
// action server subprocesses, polls their /healthz endpoints, and renders a
// live roster so a developer can stand up a small zone-sharded cluster
// without scripting it by hand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "235", Dark: "255"})
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"})
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	styleDead   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"})
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "243", Dark: "246"})
)

func main() {
	var zoneCount int
	var siloBin, asBin string
	var basePort int

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "spawn and watch a local zonecore cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), zoneCount, siloBin, asBin, basePort)
		},
	}
	root.Flags().IntVar(&zoneCount, "zones", 4, "number of action server processes to spawn")
	root.Flags().StringVar(&siloBin, "silo-bin", "./silo", "path to the built silo binary")
	root.Flags().StringVar(&asBin, "actionserver-bin", "./actionserver", "path to the built actionserver binary")
	root.Flags().IntVar(&basePort, "base-port", 9100, "first RPC port; each spawned process takes the next pair of ports")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// proc tracks one spawned subprocess's identity and the http endpoint the
// roster polls for health.
type proc struct {
	name       string
	cmd        *exec.Cmd
	healthURL  string
	rpcPort    int
	httpPort   int
	roleIsSilo bool

	mu     sync.Mutex
	status string
	detail string
}

func run(ctx context.Context, zoneCount int, siloBin, asBin string, basePort int) error {
	siloRPC, siloHTTP := basePort, basePort+1
	silo := &proc{
		name:      "silo",
		healthURL: fmt.Sprintf("http://127.0.0.1:%d/healthz", siloHTTP),
		rpcPort:   siloRPC, httpPort: siloHTTP, roleIsSilo: true,
	}
	procs := []*proc{silo}

	for i := 0; i < zoneCount; i++ {
		rpcPort := basePort + 2 + i*2
		httpPort := rpcPort + 1
		procs = append(procs, &proc{
			name:      fmt.Sprintf("zone-%02d", i),
			healthURL: fmt.Sprintf("http://127.0.0.1:%d/healthz", httpPort),
			rpcPort:   rpcPort, httpPort: httpPort,
		})
	}

	var wg sync.WaitGroup
	for _, p := range procs {
		p := p
		var bin string
		var args []string
		if p.roleIsSilo {
			bin = siloBin
			args = []string{"--rpc-port", itoa(p.rpcPort), "--http-port", itoa(p.httpPort), "--instance-id", p.name}
		} else {
			bin = asBin
			args = []string{
				"--rpc-port", itoa(p.rpcPort), "--http-port", itoa(p.httpPort), "--instance-id", p.name,
				"--silo-addr", fmt.Sprintf("127.0.0.1:%d", siloRPC),
				"--advertise-addr", "127.0.0.1",
			}
		}
		p.cmd = exec.CommandContext(ctx, bin, args...)
		p.cmd.Stdout = os.Stdout
		p.cmd.Stderr = os.Stderr

		if err := p.cmd.Start(); err != nil {
			return fmt.Errorf("orchestrator: start %s: %w", p.name, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.cmd.Wait()
		}()
		// the silo must be listening before action servers try to register.
		if p.roleIsSilo {
			time.Sleep(500 * time.Millisecond)
		}
	}

	pollCtx, pollCancel := context.WithCancel(ctx)
	defer pollCancel()
	go pollLoop(pollCtx, procs)
	go renderLoop(pollCtx, procs)

	<-ctx.Done()
	for _, p := range procs {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
	}
	wg.Wait()
	return nil
}

type healthResponse struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks"`
}

func pollLoop(ctx context.Context, procs []*proc) {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range procs {
				status, detail := pollOne(ctx, client, p)
				p.mu.Lock()
				p.status, p.detail = status, detail
				p.mu.Unlock()
			}
		}
	}
}

func pollOne(ctx context.Context, client *http.Client, p *proc) (status, detail string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return "dead", err.Error()
	}
	resp, err := client.Do(req)
	if err != nil {
		return "starting", "not yet listening"
	}
	defer resp.Body.Close()

	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return "warn", "unreadable health response"
	}
	if resp.StatusCode != http.StatusOK || !hr.OK {
		return "warn", summarizeChecks(hr.Checks)
	}
	return "ok", summarizeChecks(hr.Checks)
}

func summarizeChecks(checks map[string]string) string {
	if len(checks) == 0 {
		return ""
	}
	out := ""
	for name, result := range checks {
		if out != "" {
			out += ", "
		}
		out += name + "=" + result
	}
	return out
}

func renderLoop(ctx context.Context, procs []*proc) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Print("\033[H\033[2J")
			fmt.Println(styleHeader.Render("zonecore local cluster"))
			fmt.Println(styleMuted.Render(fmt.Sprintf("%-10s %-8s %-8s %-8s %s", "NAME", "RPC", "HTTP", "STATE", "DETAIL")))
			for _, p := range procs {
				p.mu.Lock()
				status, detail := p.status, p.detail
				p.mu.Unlock()
				if status == "" {
					status = "starting"
				}
				style := styleWarn
				switch status {
				case "ok":
					style = styleOK
				case "dead":
					style = styleDead
				}
				fmt.Printf("%-10s %-8d %-8d %s %s\n", p.name, p.rpcPort, p.httpPort, style.Render(fmt.Sprintf("%-8s", status)), styleMuted.Render(detail))
			}
		}
	}
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }
