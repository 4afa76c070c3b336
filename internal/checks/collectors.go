package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/it-novum/openitcockpit-agent-sub000/internal/config"
	"github.com/it-novum/openitcockpit-agent-sub000/internal/platform"
)

// Check names, used as keys in the default result bucket.
const (
	NameAgent     = "agent"
	NameSystem    = "system"
	NameCPU       = "cpu"
	NameMemory    = "memory"
	NameSwap      = "swap"
	NameLoad      = "system_load"
	NameDisks     = "disks"
	NameDiskIO    = "disk_io"
	NameNetStats  = "net_stats"
	NameNetIO     = "net_io"
	NameProcesses = "processes"
	NameSensors   = "sensors"
	NameUsers     = "users"
)

var processStart = time.Now()

type agentCheck struct {
	version string
	caps    platform.Capabilities
	cfg     *config.Config
}

func (c *agentCheck) Name() string { return NameAgent }

func (c *agentCheck) Run(ctx context.Context) (any, error) {
	return &AgentInfo{
		Version:   c.version,
		GoVersion: runtime.Version(),
		PID:       os.Getpid(),
		OS:        string(c.caps.OS),
		Arch:      c.caps.Arch,
		Interval:  c.cfg.Default.Interval,
		PushMode:  c.cfg.PushEnabled(),
		Autossl:   c.cfg.AutosslEnabled(),
		StartedAt: processStart.Unix(),
	}, nil
}

type systemCheck struct{}

func (systemCheck) Name() string { return NameSystem }

func (systemCheck) Run(ctx context.Context) (any, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil && info == nil {
		return nil, err
	}
	return &SystemInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformFamily:  info.PlatformFamily,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		KernelArch:      info.KernelArch,
		Virtualization:  info.VirtualizationSystem,
		Uptime:          info.Uptime,
		BootTime:        info.BootTime,
	}, err
}

type cpuCheck struct{}

func (cpuCheck) Name() string { return NameCPU }

func (cpuCheck) Run(ctx context.Context) (any, error) {
	var errs []error
	m := &CPUMetrics{}

	if total, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		errs = append(errs, fmt.Errorf("total: %w", err))
	} else if len(total) > 0 {
		m.Total = total[0]
	}

	if perCore, err := cpu.PercentWithContext(ctx, 0, true); err != nil {
		errs = append(errs, fmt.Errorf("per core: %w", err))
	} else {
		m.PerCore = perCore
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		m.Logical = n
	}

	// Times is informational; some platforms do not report it.
	if times, err := cpu.TimesWithContext(ctx, false); err == nil && len(times) > 0 {
		t := times[0]
		m.Times = &CPUTimes{
			User:   t.User,
			System: t.System,
			Idle:   t.Idle,
			Nice:   t.Nice,
			Iowait: t.Iowait,
			Irq:    t.Irq,
			Steal:  t.Steal,
		}
	}

	return m, errors.Join(errs...)
}

type memoryCheck struct{}

func (memoryCheck) Name() string { return NameMemory }

func (memoryCheck) Run(ctx context.Context) (any, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &MemoryMetrics{
		Total:     v.Total,
		Available: v.Available,
		Used:      v.Used,
		Free:      v.Free,
		Buffers:   v.Buffers,
		Cached:    v.Cached,
		Percent:   v.UsedPercent,
	}, nil
}

type swapCheck struct{}

func (swapCheck) Name() string { return NameSwap }

func (swapCheck) Run(ctx context.Context) (any, error) {
	s, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &SwapMetrics{
		Total:   s.Total,
		Used:    s.Used,
		Free:    s.Free,
		Percent: s.UsedPercent,
	}, nil
}

type loadCheck struct{}

func (loadCheck) Name() string { return NameLoad }

func (loadCheck) Run(ctx context.Context) (any, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &LoadMetrics{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}

type diskCheck struct{}

func (diskCheck) Name() string { return NameDisks }

func (diskCheck) Run(ctx context.Context) (any, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil && len(parts) == 0 {
		return nil, err
	}

	var errs []error
	out := make([]DiskUsage, 0, len(parts))
	for _, p := range parts {
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Mountpoint, err))
			continue
		}
		out = append(out, DiskUsage{
			Device:        p.Device,
			Mountpoint:    p.Mountpoint,
			Fstype:        p.Fstype,
			Total:         u.Total,
			Used:          u.Used,
			Free:          u.Free,
			Percent:       u.UsedPercent,
			InodesPercent: u.InodesUsedPercent,
		})
	}
	return out, errors.Join(errs...)
}

type diskIOCheck struct{}

func (diskIOCheck) Name() string { return NameDiskIO }

func (diskIOCheck) Run(ctx context.Context) (any, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil && len(counters) == 0 {
		return nil, err
	}
	out := make(map[string]DiskIO, len(counters))
	for name, c := range counters {
		out[name] = DiskIO{
			ReadCount:  c.ReadCount,
			WriteCount: c.WriteCount,
			ReadBytes:  c.ReadBytes,
			WriteBytes: c.WriteBytes,
			ReadTime:   c.ReadTime,
			WriteTime:  c.WriteTime,
			BusyTime:   c.IoTime,
		}
	}
	return out, nil
}

type netStatsCheck struct{}

func (netStatsCheck) Name() string { return NameNetStats }

func (netStatsCheck) Run(ctx context.Context) (any, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]NetInterface, len(ifaces))
	for _, i := range ifaces {
		addrs := make([]string, 0, len(i.Addrs))
		for _, a := range i.Addrs {
			addrs = append(addrs, a.Addr)
		}
		up := false
		for _, f := range i.Flags {
			if f == "up" {
				up = true
			}
		}
		out[i.Name] = NetInterface{
			MTU:          i.MTU,
			HardwareAddr: i.HardwareAddr,
			Flags:        i.Flags,
			Addrs:        addrs,
			IsUp:         up,
		}
	}
	return out, nil
}

type netIOCheck struct{}

func (netIOCheck) Name() string { return NameNetIO }

func (netIOCheck) Run(ctx context.Context) (any, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]NetIO, len(counters))
	for _, c := range counters {
		out[c.Name] = NetIO{
			BytesSent:   c.BytesSent,
			BytesRecv:   c.BytesRecv,
			PacketsSent: c.PacketsSent,
			PacketsRecv: c.PacketsRecv,
			Errin:       c.Errin,
			Errout:      c.Errout,
			Dropin:      c.Dropin,
			Dropout:     c.Dropout,
		}
	}
	return out, nil
}

type processCheck struct{}

func (processCheck) Name() string { return NameProcesses }

// Run lists all processes. Processes that exit while being inspected are
// skipped; per-field errors leave the field empty.
func (processCheck) Run(ctx context.Context) (any, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProcessMetrics, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		pm := ProcessMetrics{PID: p.Pid, Name: name}
		pm.PPID, _ = p.PpidWithContext(ctx)
		pm.Username, _ = p.UsernameWithContext(ctx)
		pm.Cmdline, _ = p.CmdlineWithContext(ctx)
		if status, err := p.StatusWithContext(ctx); err == nil {
			pm.Status = strings.Join(status, ",")
		}
		pm.CPUPercent, _ = p.CPUPercentWithContext(ctx)
		pm.MemoryPercent, _ = p.MemoryPercentWithContext(ctx)
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			pm.MemRSS = mi.RSS
			pm.MemVMS = mi.VMS
		}
		pm.NumThreads, _ = p.NumThreadsWithContext(ctx)
		pm.CreateTime, _ = p.CreateTimeWithContext(ctx)
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

type sensorCheck struct {
	fahrenheit bool
}

func (sensorCheck) Name() string { return NameSensors }

func (c sensorCheck) Run(ctx context.Context) (any, error) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return nil, err
	}
	out := make(map[string]Temperature, len(temps))
	for _, t := range temps {
		out[t.SensorKey] = c.convert(t.Temperature, t.High, t.Critical)
	}
	// gopsutil reports unreadable sensors as warnings next to the readable ones.
	return out, err
}

// convert builds a reading in the configured unit. A zero high or critical
// threshold means the sensor does not report one and stays zero.
func (c sensorCheck) convert(current, high, critical float64) Temperature {
	if !c.fahrenheit {
		return Temperature{Current: current, High: high, Critical: critical, Unit: "C"}
	}
	t := Temperature{Current: celsiusToFahrenheit(current), Unit: "F"}
	if high != 0 {
		t.High = celsiusToFahrenheit(high)
	}
	if critical != 0 {
		t.Critical = celsiusToFahrenheit(critical)
	}
	return t
}

func celsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

type userCheck struct{}

func (userCheck) Name() string { return NameUsers }

func (userCheck) Run(ctx context.Context) (any, error) {
	users, err := host.UsersWithContext(ctx)
	if err != nil && len(users) == 0 {
		return nil, err
	}
	out := make([]UserSession, 0, len(users))
	for _, u := range users {
		out = append(out, UserSession{
			Name:     u.User,
			Terminal: u.Terminal,
			Host:     u.Host,
			Started:  u.Started,
		})
	}
	return out, nil
}
