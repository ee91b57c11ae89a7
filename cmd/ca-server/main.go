// Command ca-server runs one CA Manager instance: it owns a cluster of
// CA Instances, regenerates their CRLs on a schedule when it holds the
// master lock, and watches for configuration changes when it doesn't.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/letsencrypt-style/xipki-core/camgr"
	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/cmd"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/metrics"
	"github.com/letsencrypt-style/xipki-core/ocsp"
)

func main() {
	configFile := flag.String("config", "", "path to the JSON application config")
	bootstrapFile := flag.String("bootstrap", "", "path to the YAML camgr.Config to start from")
	flag.Parse()
	if *configFile == "" || *bootstrapFile == "" {
		fmt.Fprintln(os.Stderr, "usage: ca-server -config <file> -bootstrap <file>")
		os.Exit(1)
	}

	var conf cmd.Config
	cmd.FailOnError(cmd.ReadConfigFile(*configFile, &conf), "reading config")
	_, logger := cmd.StatsAndLogging(conf.Syslog)

	bootstrapData, err := ioutil.ReadFile(*bootstrapFile)
	cmd.FailOnError(err, "reading bootstrap archive")
	var bootstrap camgr.Config
	cmd.FailOnError(yaml.Unmarshal(bootstrapData, &bootstrap), "parsing bootstrap archive")

	keyPolicy, err := goodkey.NewKeyPolicy(conf.Camgr.WeakKeyDir)
	cmd.FailOnError(err, "building key policy")

	store := castore.New()
	clk := clock.New()
	issuanceMetrics := metrics.NewIssuanceMetrics(prometheus.DefaultRegisterer)

	loader := cmd.NewFileKeyLoader(conf.Camgr.CAs, keyPolicy, store, logger, clk, issuanceMetrics)

	var archive camgr.ArchiveStore
	if conf.Camgr.ArchiveBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(conf.Camgr.ArchiveRegion))
		cmd.FailOnError(err, "loading AWS config for archive store")
		archive = &camgr.S3Archive{Client: s3.NewFromConfig(awsCfg), Bucket: conf.Camgr.ArchiveBucket}
	}

	mgr := camgr.New(conf.Camgr.InstanceID, store, keyPolicy, loader, archive, logger, clk)
	cmd.FailOnError(mgr.Start(bootstrap), "starting camgr")
	logger.AuditInfo(fmt.Sprintf("ca-server: started as %s", mgr.State()))

	if conf.CA.DebugAddr != "" {
		go cmd.DebugServer(conf.CA.DebugAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if mgr.State() == camgr.StartedAsMaster {
		var dead *ocsp.DeadLetterQueue
		if conf.CA.DeadLetterDir != "" {
			dead, err = ocsp.OpenDeadLetterQueue(conf.CA.DeadLetterDir, logger)
			cmd.FailOnError(err, "opening dead-letter queue")
			defer dead.Close()
		}
		interval := conf.CA.MasterPollInterval.Duration
		if interval <= 0 {
			interval = time.Hour
		}
		master := ocsp.NewMasterScheduler(mgr, interval, clk, logger, issuanceMetrics, dead)
		go master.Run(ctx)
		defer master.Stop()
	} else {
		var rdb *redis.Client
		if conf.Camgr.RedisAddr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: conf.Camgr.RedisAddr})
		}
		slave := ocsp.NewSlaveScheduler(mgr, bootstrap, rdb, clk, logger)
		go slave.Run(ctx)
		defer slave.Stop()
	}

	cmd.CatchSignals(logger, cancel)
}
