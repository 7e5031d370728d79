package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"ultron/internal/registry"
)

// Processes returns the process_manager capability. pid 0 with action
// "query" lists the visible process table; everything else operates on the
// given pid. A pid that no longer exists is an ordinary outcome, not an
// error.
func Processes() registry.Capability {
	// Not flagged privileged: signalling other users' processes is already
	// denied by the kernel, and the query path must work for anyone.
	return registry.Capability{
		Name: "process_manager",
		Handler: func(params map[string]any) (string, error) {
			pid, _ := intParam(params, "pid")
			action := stringParam(params, "action")

			if pid == 0 && action == "query" {
				return listProcesses()
			}

			exists, err := process.PidExists(int32(pid))
			if err != nil {
				return "", fmt.Errorf("pid lookup: %w", err)
			}
			if !exists {
				return fmt.Sprintf("process %d not found", pid), nil
			}

			p, err := process.NewProcess(int32(pid))
			if err != nil {
				return fmt.Sprintf("process %d not found", pid), nil
			}

			switch action {
			case "query":
				name, _ := p.Name()
				status, _ := p.Status()
				return fmt.Sprintf("%d: %s (%s)", pid, name, strings.Join(status, ",")), nil
			case "suspend":
				if err := p.Suspend(); err != nil {
					return "", fmt.Errorf("suspend %d: %w", pid, err)
				}
				return fmt.Sprintf("process %d suspended", pid), nil
			case "resume":
				if err := p.Resume(); err != nil {
					return "", fmt.Errorf("resume %d: %w", pid, err)
				}
				return fmt.Sprintf("process %d resumed", pid), nil
			case "terminate":
				if err := p.Terminate(); err != nil {
					return "", fmt.Errorf("terminate %d: %w", pid, err)
				}
				return fmt.Sprintf("process %d terminated", pid), nil
			case "priority":
				nice, ok := intParam(params, "value")
				if !ok {
					return "", fmt.Errorf("priority needs an integer value")
				}
				if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
					return "", fmt.Errorf("setpriority %d: %w", pid, err)
				}
				return fmt.Sprintf("process %d priority set to %d", pid, nice), nil
			default:
				return "", fmt.Errorf("unknown process action %q", action)
			}
		},
	}
}

func listProcesses() (string, error) {
	procs, err := process.Processes()
	if err != nil {
		return "", fmt.Errorf("process table: %w", err)
	}

	type row struct {
		pid  int32
		name string
	}
	rows := make([]row, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // raced with process exit
		}
		rows = append(rows, row{pid: p.Pid, name: name})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].pid < rows[j].pid })

	var sb strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&sb, "%d: %s\n", r.pid, r.name)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
