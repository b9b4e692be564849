package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goodtune/detoxmine/internal/config"
	"github.com/goodtune/detoxmine/internal/provider"
	"github.com/redis/go-redis/v9"
)

const (
	// usageTTL keeps daily records for 90 days
	usageTTL = 90 * 24 * time.Hour

	// pendingCommandTTL bounds how long a settings request waits for an agent
	pendingCommandTTL = 10 * time.Minute

	dateLayout = "2006-01-02"
)

// Provider implements the usage-stats capabilities on top of a Redis instance
// that a device agent keeps up to date.
type Provider struct {
	client   *redis.Client
	deviceID string
	location *time.Location
}

// Command is the message a device agent receives on its command channel.
type Command struct {
	Action string `json:"action"`
	Hint   string `json:"hint"`
	SentAt int64  `json:"sent_at"`
}

// Open creates a new Redis-backed provider for a device
func Open(cfg config.RedisConfig, deviceID string) (*Provider, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return New(client, deviceID), nil
}

// New wraps an existing client.
func New(client *redis.Client, deviceID string) *Provider {
	return &Provider{
		client:   client,
		deviceID: deviceID,
		location: time.Local,
	}
}

// SetLocation sets the zone used to map query instants to stored dates.
func (p *Provider) SetLocation(loc *time.Location) {
	p.location = loc
}

// Close closes the Redis connection
func (p *Provider) Close() error {
	return p.client.Close()
}

// Capabilities exposes every capability this provider implements.
func (p *Provider) Capabilities() *provider.Capabilities {
	return provider.Full(p)
}

// CheckForPermission reports whether the agent has recorded a usage-access grant.
func (p *Provider) CheckForPermission(ctx context.Context) (bool, error) {
	value, err := p.client.Get(ctx, p.permissionKey()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get permission: %w", err)
	}
	return value == "1", nil
}

// ShowUsageAccessSettings asks the device agent to open the usage-access
// settings. The command is also kept as pending, so a request made while no
// agent is subscribed is delivered when the agent reconnects and still counts
// as launched.
func (p *Provider) ShowUsageAccessSettings(ctx context.Context, hint string) error {
	payload, err := sonic.Marshal(Command{
		Action: "show_usage_access_settings",
		Hint:   hint,
		SentAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	script := redis.NewScript(launchSettingsScript)
	keys := []string{p.commandChannel(), p.pendingCommandKey()}
	if err := script.Run(ctx, p.client, keys, string(payload), int64(pendingCommandTTL.Seconds())).Err(); err != nil {
		return fmt.Errorf("publish settings command: %w", err)
	}
	return nil
}

// QueryUsageStats returns the records stored for every local date touched by
// [startMs, endMs] as an object keyed by package name. Durations of the same
// package on different dates are summed.
func (p *Provider) QueryUsageStats(ctx context.Context, freq provider.Frequency, startMs, endMs int64) (provider.Payload, error) {
	if endMs < startMs {
		return nil, fmt.Errorf("invalid range: end %d before start %d", endMs, startMs)
	}

	dates := datesBetween(time.UnixMilli(startMs).In(p.location), time.UnixMilli(endMs).In(p.location))

	pipe := p.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, p.usageKey(date))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("query usage (%s): %w", freq, err)
	}

	merged := make(map[string]provider.Record)
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("read usage for %s: %w", dates[i], err)
		}
		for pkg, raw := range data {
			var record provider.Record
			if err := sonic.UnmarshalString(raw, &record); err != nil {
				return nil, fmt.Errorf("decode record %s on %s: %w", pkg, dates[i], err)
			}
			if existing, ok := merged[pkg]; ok {
				record = mergeRecords(existing, record)
			}
			merged[pkg] = record
		}
	}

	payload, err := sonic.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return payload, nil
}

// Ingest replaces the records of a date with the agent's latest report.
func (p *Provider) Ingest(ctx context.Context, date string, records []provider.Record) (int, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}

	args := []interface{}{date, int64(usageTTL.Seconds())}
	for _, record := range records {
		if record.PackageName == "" {
			continue
		}
		data, err := sonic.Marshal(record)
		if err != nil {
			return 0, fmt.Errorf("encode record %s: %w", record.PackageName, err)
		}
		args = append(args, record.PackageName, string(data))
	}

	script := redis.NewScript(ingestDailyScript)
	keys := []string{p.usageKey(date), p.datesKey()}
	written, err := script.Run(ctx, p.client, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("ingest usage: %w", err)
	}
	return written, nil
}

// SetPermission records the device's usage-access grant.
func (p *Provider) SetPermission(ctx context.Context, granted bool) error {
	value := "0"
	if granted {
		value = "1"
	}
	return p.client.Set(ctx, p.permissionKey(), value, 0).Err()
}

// TakePendingCommand returns and clears the last undelivered command.
func (p *Provider) TakePendingCommand(ctx context.Context) (*Command, error) {
	raw, err := p.client.GetDel(ctx, p.pendingCommandKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cmd Command
	if err := sonic.UnmarshalString(raw, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	return &cmd, nil
}

// Dates lists the dates with stored usage for the device.
func (p *Provider) Dates(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, p.datesKey()).Result()
}

func (p *Provider) permissionKey() string {
	return fmt.Sprintf("detoxmine:device:%s:permission", p.deviceID)
}

func (p *Provider) commandChannel() string {
	return fmt.Sprintf("detoxmine:device:%s:commands", p.deviceID)
}

func (p *Provider) pendingCommandKey() string {
	return fmt.Sprintf("detoxmine:device:%s:pending_command", p.deviceID)
}

func (p *Provider) usageKey(date string) string {
	return fmt.Sprintf("detoxmine:usage:daily:%s:%s", p.deviceID, date)
}

func (p *Provider) datesKey() string {
	return fmt.Sprintf("detoxmine:usage:dates:%s", p.deviceID)
}

func datesBetween(start, end time.Time) []string {
	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	dates := make([]string, 0, 1)
	for d := first; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dateLayout))
	}
	return dates
}

func mergeRecords(a, b provider.Record) provider.Record {
	merged := a
	merged.TotalTimeInForeground += b.TotalTimeInForeground
	if merged.AppName == "" {
		merged.AppName = b.AppName
	}
	if b.FirstTimeStamp != 0 && (merged.FirstTimeStamp == 0 || b.FirstTimeStamp < merged.FirstTimeStamp) {
		merged.FirstTimeStamp = b.FirstTimeStamp
	}
	if b.LastTimeStamp > merged.LastTimeStamp {
		merged.LastTimeStamp = b.LastTimeStamp
	}
	if b.LastTimeUsed > merged.LastTimeUsed {
		merged.LastTimeUsed = b.LastTimeUsed
	}
	return merged
}
