package sysinfo

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GPU describes one detected NVIDIA device.
type GPU struct {
	Index      int
	Name       string
	MemoryMiB  int
	Driver     string
	ComputeCap string
}

// OutputRunner is the subset of command execution GPU detection needs.
type OutputRunner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// HaveNvidiaSMI reports whether nvidia-smi is available in PATH.
func HaveNvidiaSMI() bool {
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}

// DetectGPUs queries nvidia-smi for the device inventory. Rows that fail to
// parse are skipped rather than failing the whole detection.
func DetectGPUs(ctx context.Context, runner OutputRunner) ([]GPU, error) {
	out, err := runner.Output(ctx, "nvidia-smi",
		"--query-gpu=index,name,memory.total,driver_version,compute_cap",
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, fmt.Errorf("query gpus: %w", err)
	}

	var gpus []GPU
	for _, row := range parseCSV(out) {
		if len(row) < 5 {
			continue
		}
		index, convErr := strconv.Atoi(row[0])
		if convErr != nil {
			continue
		}
		mem := 0
		if m, memErr := strconv.Atoi(row[2]); memErr == nil {
			mem = m
		}
		gpus = append(gpus, GPU{
			Index:      index,
			Name:       row[1],
			MemoryMiB:  mem,
			Driver:     row[3],
			ComputeCap: row[4],
		})
	}
	return gpus, nil
}

// Snapshot returns a one-shot human-readable GPU summary: temperature,
// utilization, memory and power per device.
func Snapshot(ctx context.Context, runner OutputRunner) (string, error) {
	out, err := runner.Output(ctx, "nvidia-smi",
		"--query-gpu=index,name,temperature.gpu,utilization.gpu,memory.used,memory.total,power.draw,power.limit",
		"--format=csv,noheader,nounits")
	if err != nil {
		return "", fmt.Errorf("query gpu stats: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-30s %5s %5s  %-18s %s\n", "Idx", "Name", "Temp", "Util", "Mem(Used/Total)", "Power")
	for _, row := range parseCSV(out) {
		if len(row) < 8 {
			continue
		}
		mem := fmt.Sprintf("%s / %s MiB", row[4], row[5])
		power := "N/A"
		if row[6] != "N/A" && row[7] != "N/A" {
			power = fmt.Sprintf("%s/%s W", row[6], row[7])
		}
		fmt.Fprintf(&b, "%-4s %-30s %4sC %4s%%  %-18s %s\n",
			row[0], truncate(row[1], 30), row[2], row[3], mem, power)
	}
	return b.String(), nil
}

// parseCSV splits nvidia-smi csv,noheader output into trimmed rows.
func parseCSV(out string) [][]string {
	var rows [][]string
	for line := range strings.SplitSeq(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		rows = append(rows, parts)
	}
	return rows
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
