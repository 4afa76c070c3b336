package checks

// AgentInfo describes the running agent.
type AgentInfo struct {
	// Version is the agent release.
	Version string `json:"agent_version"`

	// GoVersion is the runtime the agent was built with.
	GoVersion string `json:"go_version"`

	// PID is the agent process ID.
	PID int `json:"pid"`

	// OS is the operating system family (linux, windows, darwin, ...).
	OS string `json:"os"`

	// Arch is the CPU architecture.
	Arch string `json:"arch"`

	// Interval is the built-in check interval in seconds.
	Interval int `json:"interval"`

	// PushMode is true when results are pushed to the server.
	PushMode bool `json:"push_mode"`

	// Autossl is true when the certificate exchange is enabled.
	Autossl bool `json:"autossl"`

	// StartedAt is the unix timestamp the agent process was started.
	StartedAt int64 `json:"started_at"`
}

// SystemInfo contains host identification and uptime.
type SystemInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformFamily  string `json:"platform_family,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	KernelArch      string `json:"kernel_arch,omitempty"`
	Virtualization  string `json:"virtualization,omitempty"`

	// Uptime is the number of seconds since boot.
	Uptime uint64 `json:"uptime"`

	// BootTime is the unix timestamp of the last boot.
	BootTime uint64 `json:"boot_time"`
}

// CPUMetrics contains CPU usage percentages.
type CPUMetrics struct {
	// Total is the overall CPU usage percentage (0-100).
	Total float64 `json:"cpu_total_percentage"`

	// PerCore is the usage percentage of every logical core.
	PerCore []float64 `json:"cpu_percentage"`

	// Logical is the number of logical cores.
	Logical int `json:"cpu_logical_count"`

	// Times holds the aggregated cumulative CPU times in seconds.
	Times *CPUTimes `json:"cpu_total_percentage_detailed,omitempty"`
}

// CPUTimes holds cumulative CPU times in seconds.
type CPUTimes struct {
	User   float64 `json:"user"`
	System float64 `json:"system"`
	Idle   float64 `json:"idle"`
	Nice   float64 `json:"nice"`
	Iowait float64 `json:"iowait"`
	Irq    float64 `json:"irq"`
	Steal  float64 `json:"steal"`
}

// MemoryMetrics contains system memory usage.
type MemoryMetrics struct {
	// Total is the total system memory in bytes.
	Total uint64 `json:"total"`

	// Available is the memory available for new processes in bytes.
	Available uint64 `json:"available"`

	// Used is the used system memory in bytes.
	Used uint64 `json:"used"`

	// Free is the unused memory in bytes.
	Free uint64 `json:"free"`

	Buffers uint64 `json:"buffers,omitempty"`
	Cached  uint64 `json:"cached,omitempty"`

	// Percent is the used share of Total (0-100).
	Percent float64 `json:"percent"`
}

// SwapMetrics contains swap usage.
type SwapMetrics struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// LoadMetrics contains the load averages (Unix systems).
type LoadMetrics struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// DiskUsage contains usage of one mounted partition.
type DiskUsage struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	Fstype     string  `json:"fstype"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	Percent    float64 `json:"percent"`

	// InodesPercent is zero on file systems without inodes.
	InodesPercent float64 `json:"inodes_percent,omitempty"`
}

// DiskIO contains cumulative I/O counters of one block device.
type DiskIO struct {
	ReadCount  uint64 `json:"read_count"`
	WriteCount uint64 `json:"write_count"`
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`

	// ReadTime and WriteTime are in milliseconds.
	ReadTime  uint64 `json:"read_time"`
	WriteTime uint64 `json:"write_time"`
	BusyTime  uint64 `json:"busy_time"`
}

// NetInterface describes one network interface.
type NetInterface struct {
	MTU          int      `json:"mtu"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Flags        []string `json:"flags"`
	Addrs        []string `json:"addrs"`

	// IsUp is true when the interface carries the "up" flag.
	IsUp bool `json:"isup"`
}

// NetIO contains cumulative traffic counters of one interface.
type NetIO struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	Errin       uint64 `json:"errin"`
	Errout      uint64 `json:"errout"`
	Dropin      uint64 `json:"dropin"`
	Dropout     uint64 `json:"dropout"`
}

// ProcessMetrics contains metrics for one process.
type ProcessMetrics struct {
	// PID is the process ID.
	PID int32 `json:"pid"`

	// PPID is the parent process ID.
	PPID int32 `json:"ppid"`

	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Cmdline  string `json:"cmdline,omitempty"`
	Status   string `json:"status,omitempty"`

	// CPUPercent is the process CPU usage percentage.
	CPUPercent float64 `json:"cpu_percent"`

	// MemoryPercent is the share of physical memory in use.
	MemoryPercent float32 `json:"memory_percent"`

	// MemRSS is the resident set size (physical memory) in bytes.
	MemRSS uint64 `json:"mem_rss"`

	// MemVMS is the virtual memory size in bytes.
	MemVMS uint64 `json:"mem_vms,omitempty"`

	// NumThreads is the number of threads in the process.
	NumThreads int32 `json:"num_threads,omitempty"`

	// CreateTime is the start time in unix milliseconds.
	CreateTime int64 `json:"create_time,omitempty"`
}

// Temperature is one sensor reading.
type Temperature struct {
	Current  float64 `json:"current"`
	High     float64 `json:"high,omitempty"`
	Critical float64 `json:"critical,omitempty"`

	// Unit is "C" or "F".
	Unit string `json:"unit"`
}

// UserSession is one logged-in user.
type UserSession struct {
	Name     string `json:"name"`
	Terminal string `json:"terminal"`
	Host     string `json:"host"`

	// Started is the login time as a unix timestamp.
	Started int `json:"started"`
}
