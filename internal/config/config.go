package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/companionlink/internal/protocol"
	"github.com/dbehnke/companionlink/internal/recovery"
	"github.com/dbehnke/companionlink/internal/transport"
)

// Adapter names accepted in the [Link] section
const (
	AdapterSim   = "sim"
	AdapterBlueZ = "bluez"
	AdapterUART  = "uart"
)

// Config represents the companiond configuration
type Config struct {
	filename string

	// General section
	deviceName string
	pin        uint32

	// Link section
	adapter       string
	maxFrameSize  uint32
	sendQueueSize uint32
	recvQueueSize uint32
	assumedMTU    uint32
	uartPort      string
	uartBaud      uint32

	// Recovery section, milliseconds unless noted
	advertRestartDelay     uint32
	maxConsecutiveFailures uint32
	recoveryDelayBase      uint32
	recoveryDelayMax       uint32
	stableConnection       uint32
	stackResetPause        uint32

	// Health section, milliseconds
	connectionTimeout uint32
	heartbeatInterval uint32
	writeMinInterval  uint32
	tickInterval      uint32

	// Sim section (demo peer)
	simPeer          bool
	simPeerInterval  uint32
	simSessionFrames uint32
	simPeerPasskey   uint32

	// Database section
	databaseEnabled bool
	databasePath    string
	databaseDebug   bool

	// Log section
	logDisplayLevel uint32
	logFileLevel    uint32
	logFilePath     string
	logFileRoot     string
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,
		// Firmware defaults
		deviceName:             "Companion",
		pin:                    protocol.DEFAULT_PIN,
		adapter:                AdapterSim,
		maxFrameSize:           protocol.MAX_FRAME_SIZE,
		sendQueueSize:          protocol.FRAME_QUEUE_SIZE,
		recvQueueSize:          protocol.FRAME_QUEUE_SIZE,
		assumedMTU:             protocol.PREFERRED_ATT_MTU,
		uartBaud:               9600,
		advertRestartDelay:     protocol.ADVERT_RESTART_DELAY,
		maxConsecutiveFailures: protocol.MAX_CONSECUTIVE_FAILURES,
		recoveryDelayBase:      protocol.RECOVERY_DELAY_BASE,
		recoveryDelayMax:       protocol.RECOVERY_DELAY_MAX,
		stableConnection:       protocol.STABLE_CONNECTION,
		stackResetPause:        protocol.STACK_RESET_PAUSE,
		connectionTimeout:      protocol.CONNECTION_TIMEOUT,
		heartbeatInterval:      protocol.HEARTBEAT_INTERVAL,
		writeMinInterval:       protocol.WRITE_MIN_INTERVAL,
		tickInterval:           protocol.DEFAULT_TICK_PERIOD,
		simPeer:                true,
		simPeerInterval:        1000,
		simPeerPasskey:         protocol.DEFAULT_PIN,

		// Database defaults
		databaseEnabled: false,
		databasePath:    "data/companion.db",
		databaseDebug:   false,

		logDisplayLevel: 2,
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", c.filename, err)
	}
	defer file.Close()

	return c.parseINI(file)
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	return c.parseINIString(data)
}

func (c *Config) parseINI(file *os.File) error {
	scanner := bufio.NewScanner(file)
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIString(data string) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIScanner(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || line[0] == '#' || line[0] == ';' {
			continue
		}

		// Check for section header
		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		// Parse key=value pairs
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Parse based on current section
		switch currentSection {
		case "General":
			c.parseGeneralSection(key, value)
		case "Link":
			c.parseLinkSection(key, value)
		case "Recovery":
			c.parseRecoverySection(key, value)
		case "Health":
			c.parseHealthSection(key, value)
		case "Sim":
			c.parseSimSection(key, value)
		case "Database":
			c.parseDatabaseSection(key, value)
		case "Log":
			c.parseLogSection(key, value)
		}
	}

	return scanner.Err()
}

func (c *Config) parseGeneralSection(key, value string) {
	switch key {
	case "DeviceName":
		c.deviceName = value
	case "PIN":
		c.parseUint(value, &c.pin)
	}
}

func (c *Config) parseLinkSection(key, value string) {
	switch key {
	case "Adapter":
		c.adapter = strings.ToLower(value)
	case "MaxFrameSize":
		c.parseUint(value, &c.maxFrameSize)
	case "SendQueueSize":
		c.parseUint(value, &c.sendQueueSize)
	case "RecvQueueSize":
		c.parseUint(value, &c.recvQueueSize)
	case "AssumedMTU":
		c.parseUint(value, &c.assumedMTU)
	case "UARTPort":
		c.uartPort = value
	case "UARTBaud":
		c.parseUint(value, &c.uartBaud)
	}
}

func (c *Config) parseRecoverySection(key, value string) {
	switch key {
	case "AdvertRestartDelay":
		c.parseUint(value, &c.advertRestartDelay)
	case "MaxConsecutiveFailures":
		c.parseUint(value, &c.maxConsecutiveFailures)
	case "RecoveryDelayBase":
		c.parseUint(value, &c.recoveryDelayBase)
	case "RecoveryDelayMax":
		c.parseUint(value, &c.recoveryDelayMax)
	case "StableConnection":
		c.parseUint(value, &c.stableConnection)
	case "StackResetPause":
		c.parseUint(value, &c.stackResetPause)
	}
}

func (c *Config) parseHealthSection(key, value string) {
	switch key {
	case "ConnectionTimeout":
		c.parseUint(value, &c.connectionTimeout)
	case "HeartbeatInterval":
		c.parseUint(value, &c.heartbeatInterval)
	case "WriteMinInterval":
		c.parseUint(value, &c.writeMinInterval)
	case "TickInterval":
		c.parseUint(value, &c.tickInterval)
	}
}

func (c *Config) parseSimSection(key, value string) {
	switch key {
	case "Peer":
		c.simPeer = c.parseBool(value)
	case "PeerInterval":
		c.parseUint(value, &c.simPeerInterval)
	case "SessionFrames":
		c.parseUint(value, &c.simSessionFrames)
	case "PeerPasskey":
		c.parseUint(value, &c.simPeerPasskey)
	}
}

func (c *Config) parseDatabaseSection(key, value string) {
	switch key {
	case "Enabled":
		c.databaseEnabled = c.parseBool(value)
	case "Path":
		c.databasePath = value
	case "Debug":
		c.databaseDebug = c.parseBool(value)
	}
}

func (c *Config) parseLogSection(key, value string) {
	switch key {
	case "DisplayLevel":
		c.parseUint(value, &c.logDisplayLevel)
	case "FileLevel":
		c.parseUint(value, &c.logFileLevel)
	case "FilePath":
		c.logFilePath = value
	case "FileRoot":
		c.logFileRoot = value
	}
}

func (c *Config) parseBool(value string) bool {
	return value == "1" || strings.ToLower(value) == "true" || strings.ToLower(value) == "yes"
}

// parseUint stores value in dst when it parses, leaving the default otherwise
func (c *Config) parseUint(value string, dst *uint32) {
	if v, err := strconv.ParseUint(value, 10, 32); err == nil {
		*dst = uint32(v)
	}
}

func millis(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// TransportConfig converts the [General], [Link], [Recovery] and [Health]
// sections into transport settings.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		MaxFrameSize:      int(c.maxFrameSize),
		SendQueueSize:     int(c.sendQueueSize),
		RecvQueueSize:     int(c.recvQueueSize),
		WriteMinInterval:  millis(c.writeMinInterval),
		ConnectionTimeout: millis(c.connectionTimeout),
		HeartbeatInterval: millis(c.heartbeatInterval),
		Credential:        c.pin,
		Recovery: recovery.Policy{
			AdvertRestartDelay:     millis(c.advertRestartDelay),
			MaxConsecutiveFailures: c.maxConsecutiveFailures,
			RecoveryDelayBase:      millis(c.recoveryDelayBase),
			RecoveryDelayMax:       millis(c.recoveryDelayMax),
			StableConnection:       millis(c.stableConnection),
			StackResetPause:        millis(c.stackResetPause),
		},
	}
}

// TickDuration returns the cooperative loop period
func (c *Config) TickDuration() time.Duration {
	return millis(c.tickInterval)
}

// Validate rejects configurations companiond cannot run with
func (c *Config) Validate() error {
	switch c.adapter {
	case AdapterSim, AdapterBlueZ:
	case AdapterUART:
		if c.uartPort == "" {
			return fmt.Errorf("adapter %q requires UARTPort", c.adapter)
		}
	default:
		return fmt.Errorf("unknown adapter %q", c.adapter)
	}
	if c.deviceName == "" {
		return fmt.Errorf("DeviceName must not be empty")
	}
	if c.tickInterval == 0 {
		return fmt.Errorf("TickInterval must be positive")
	}
	if c.assumedMTU != 0 && c.assumedMTU <= protocol.ATT_HEADER_LENGTH {
		return fmt.Errorf("AssumedMTU %d leaves no room for payload", c.assumedMTU)
	}
	if c.databaseEnabled && c.databasePath == "" {
		return fmt.Errorf("database enabled without a Path")
	}
	if err := c.TransportConfig().Validate(); err != nil {
		return fmt.Errorf("invalid link settings: %w", err)
	}
	return nil
}

// Getter methods for General section
func (c *Config) GetDeviceName() string { return c.deviceName }
func (c *Config) GetPIN() uint32        { return c.pin }

// Getter methods for Link section
func (c *Config) GetAdapter() string       { return c.adapter }
func (c *Config) GetMaxFrameSize() uint32  { return c.maxFrameSize }
func (c *Config) GetSendQueueSize() uint32 { return c.sendQueueSize }
func (c *Config) GetRecvQueueSize() uint32 { return c.recvQueueSize }
func (c *Config) GetAssumedMTU() uint32    { return c.assumedMTU }
func (c *Config) GetUARTPort() string      { return c.uartPort }
func (c *Config) GetUARTBaud() uint32      { return c.uartBaud }

// Getter methods for Recovery section
func (c *Config) GetAdvertRestartDelay() uint32     { return c.advertRestartDelay }
func (c *Config) GetMaxConsecutiveFailures() uint32 { return c.maxConsecutiveFailures }
func (c *Config) GetRecoveryDelayBase() uint32      { return c.recoveryDelayBase }
func (c *Config) GetRecoveryDelayMax() uint32       { return c.recoveryDelayMax }
func (c *Config) GetStableConnection() uint32       { return c.stableConnection }
func (c *Config) GetStackResetPause() uint32        { return c.stackResetPause }

// Getter methods for Health section
func (c *Config) GetConnectionTimeout() uint32 { return c.connectionTimeout }
func (c *Config) GetHeartbeatInterval() uint32 { return c.heartbeatInterval }
func (c *Config) GetWriteMinInterval() uint32  { return c.writeMinInterval }
func (c *Config) GetTickInterval() uint32      { return c.tickInterval }

// Getter methods for Sim section
func (c *Config) GetSimPeer() bool            { return c.simPeer }
func (c *Config) GetSimPeerInterval() uint32  { return c.simPeerInterval }
func (c *Config) GetSimSessionFrames() uint32 { return c.simSessionFrames }
func (c *Config) GetSimPeerPasskey() uint32   { return c.simPeerPasskey }

// Getter methods for Database section
func (c *Config) GetDatabaseEnabled() bool { return c.databaseEnabled }
func (c *Config) GetDatabasePath() string  { return c.databasePath }
func (c *Config) GetDatabaseDebug() bool   { return c.databaseDebug }

// Getter methods for Log section
func (c *Config) GetLogDisplayLevel() uint32 { return c.logDisplayLevel }
func (c *Config) GetLogFileLevel() uint32    { return c.logFileLevel }
func (c *Config) GetLogFilePath() string     { return c.logFilePath }
func (c *Config) GetLogFileRoot() string     { return c.logFileRoot }
