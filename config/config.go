package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/treemana/godoh/cache"
	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/tls"
	"github.com/treemana/godoh/udp"
	"github.com/treemana/godoh/upstream"
)

const (
	EnvRemoteURL  = "GODOH_REMOTE_URL"
	EnvListenAddr = "GODOH_LISTEN_ADDR"
	EnvProxyURL   = "GODOH_PROXY_URL"

	defaultAddress       = "127.0.0.1:53"
	defaultCacheSize     = 4096
	defaultCacheMaxTTL   = 3600 // seconds
	defaultPurgeInterval = time.Minute
	defaultTimeout       = 5 * time.Second

	logMaxAge     = 2
	logMaxSize    = 10
	logMaxBackups = 100
)

// Option is read once at startup and never modified afterwards.
// Precedence: defaults < toml file < environment < command line.
type Option struct {
	Log struct {
		File     string `toml:"file"`
		STDOUT   bool   `toml:"stdout"`
		Verbose  bool   `toml:"verbose"`
		JSON     bool   `toml:"json"`
		Compress bool   `toml:"compress"` // gzip rotated files
	} `toml:"log"`

	Server struct {
		Address     string `toml:"address"`
		MaxInflight int64  `toml:"max_inflight"` // 0 means unbounded
	} `toml:"server"`

	Upstream struct {
		URL     string        `toml:"url"`
		Proxy   string        `toml:"proxy"`
		Timeout time.Duration `toml:"timeout"`
	} `toml:"upstream"`

	Cache struct {
		Enable        bool          `toml:"enable"`
		Size          int           `toml:"size"`
		MaxTTL        uint32        `toml:"max_ttl"` // seconds, 0 means unlimited
		PurgeInterval time.Duration `toml:"purge_interval"`
	} `toml:"cache"`
}

func Default() *Option {
	var o Option
	o.Log.STDOUT = true
	o.Server.Address = defaultAddress
	o.Upstream.Timeout = defaultTimeout
	o.Cache.Size = defaultCacheSize
	o.Cache.MaxTTL = defaultCacheMaxTTL
	o.Cache.PurgeInterval = defaultPurgeInterval
	return &o
}

// LoadEnvFile add the variables of a dotenv file to the environment, existing
// variables win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "env file %s", path)
}

// Load build the Option from the command line arguments (without the program
// name), the environment read by lookupEnv and the optional toml file.
// pflag.ErrHelp is returned as is when help is requested.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Option, error) {
	var (
		fs   = pflag.NewFlagSet("godoh", pflag.ContinueOnError)
		file string
		flag Option
	)

	fs.StringVarP(&flag.Upstream.URL, "remote", "r", "", "DoH resolver url, https:// or h3:// (env "+EnvRemoteURL+")")
	fs.StringVarP(&flag.Server.Address, "addr-bind", "a", defaultAddress, "local udp address to listen on (env "+EnvListenAddr+")")
	fs.BoolVarP(&flag.Cache.Enable, "cache", "c", false, "cache responses")
	fs.BoolVarP(&flag.Log.Verbose, "log-queries", "l", false, "log every query")
	fs.Uint32VarP(&flag.Cache.MaxTTL, "cache-ttl", "t", defaultCacheMaxTTL, "max seconds a response stays cached, 0 means the record ttl only")
	fs.StringVarP(&flag.Upstream.Proxy, "proxy", "p", "", "socks5, socks5h, http or https proxy url (env "+EnvProxyURL+")")
	fs.StringVar(&file, "config", "", "toml configuration file")
	fs.DurationVar(&flag.Upstream.Timeout, "timeout", defaultTimeout, "timeout of one DoH exchange")
	fs.IntVar(&flag.Cache.Size, "cache-size", defaultCacheSize, "max number of cached responses")
	fs.Int64Var(&flag.Server.MaxInflight, "max-inflight", 0, "max concurrent queries, 0 means unbounded")
	fs.StringVar(&flag.Log.File, "log-file", "", "log file, rotated")
	fs.BoolVar(&flag.Log.JSON, "log-json", false, "json log lines")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments %v", fs.Args())
	}

	o := Default()

	if len(file) > 0 {
		md, err := toml.DecodeFile(file, o)
		if err != nil {
			return nil, errors.Wrapf(err, "config file %s", file)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Errorf("config file %s: unknown keys %v", file, undecoded)
		}
	}

	if lookupEnv != nil {
		if v, ok := lookupEnv(EnvRemoteURL); ok && len(v) > 0 {
			o.Upstream.URL = v
		}
		if v, ok := lookupEnv(EnvListenAddr); ok && len(v) > 0 {
			o.Server.Address = v
		}
		if v, ok := lookupEnv(EnvProxyURL); ok && len(v) > 0 {
			o.Upstream.Proxy = v
		}
	}

	overlay := map[string]func(){
		"remote":       func() { o.Upstream.URL = flag.Upstream.URL },
		"addr-bind":    func() { o.Server.Address = flag.Server.Address },
		"cache":        func() { o.Cache.Enable = flag.Cache.Enable },
		"log-queries":  func() { o.Log.Verbose = flag.Log.Verbose },
		"cache-ttl":    func() { o.Cache.MaxTTL = flag.Cache.MaxTTL },
		"proxy":        func() { o.Upstream.Proxy = flag.Upstream.Proxy },
		"timeout":      func() { o.Upstream.Timeout = flag.Upstream.Timeout },
		"cache-size":   func() { o.Cache.Size = flag.Cache.Size },
		"max-inflight": func() { o.Server.MaxInflight = flag.Server.MaxInflight },
		"log-file":     func() { o.Log.File = flag.Log.File },
		"log-json":     func() { o.Log.JSON = flag.Log.JSON },
	}
	for name, set := range overlay {
		if fs.Changed(name) {
			set()
		}
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}

	return o, nil
}

func (o *Option) Validate() error {
	if len(o.Upstream.URL) == 0 {
		return errors.Errorf("remote url needed, use --remote or %s", EnvRemoteURL)
	}

	_, http3, err := tls.ParseRemote(o.Upstream.URL)
	if err != nil {
		return err
	}

	proxyURL, err := tls.ParseProxy(o.Upstream.Proxy)
	if err != nil {
		return err
	}

	if http3 && proxyURL != nil {
		return errors.New("an h3:// remote can not be used with a proxy")
	}

	if _, err = net.ResolveUDPAddr("udp", o.Server.Address); err != nil {
		return errors.Wrapf(err, "listen address %q", o.Server.Address)
	}

	switch {
	case o.Upstream.Timeout <= 0:
		return errors.Errorf("invalid timeout %s", o.Upstream.Timeout)
	case o.Cache.Size < 0:
		return errors.Errorf("invalid cache size %d", o.Cache.Size)
	case o.Server.MaxInflight < 0:
		return errors.Errorf("invalid max inflight %d", o.Server.MaxInflight)
	case o.Cache.PurgeInterval < 0:
		return errors.Errorf("invalid cache purge interval %s", o.Cache.PurgeInterval)
	}

	return nil
}

func (o *Option) LogConfig() log.Config {
	lc := log.Config{
		File:       o.Log.File,
		STDOUT:     o.Log.STDOUT || len(o.Log.File) == 0,
		MaxAge:     logMaxAge,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackups,
		Compress:   o.Log.Compress,
		JsonFormat: o.Log.JSON,
	}

	if o.Log.Verbose {
		lc.Level = -1
	}

	return lc
}

func (o *Option) CacheConfig() cache.Config {
	return cache.Config{
		Enable: o.Cache.Enable,
		Size:   o.Cache.Size,
		MaxTTL: time.Duration(o.Cache.MaxTTL) * time.Second,
	}
}

func (o *Option) UpstreamConfig() upstream.Config {
	return upstream.Config{
		URL:     o.Upstream.URL,
		Proxy:   o.Upstream.Proxy,
		Timeout: o.Upstream.Timeout,
	}
}

func (o *Option) ServerConfig() udp.Configure {
	return udp.Configure{
		Address:       o.Server.Address,
		MaxInflight:   o.Server.MaxInflight,
		PurgeInterval: o.Cache.PurgeInterval,
	}
}

// String is the option as logged at startup, proxy credentials hidden.
func (o *Option) String() string {
	var proxy string
	if u, err := tls.ParseProxy(o.Upstream.Proxy); err == nil && u != nil {
		proxy = u.Redacted()
	}
	return fmt.Sprintf("remote=%s proxy=[%s] timeout=%s listen=%s max_inflight=%d cache=%t cache_size=%d cache_max_ttl=%ds verbose=%t",
		o.Upstream.URL, proxy, o.Upstream.Timeout, o.Server.Address, o.Server.MaxInflight,
		o.Cache.Enable, o.Cache.Size, o.Cache.MaxTTL, o.Log.Verbose)
}
