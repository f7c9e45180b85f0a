package main

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"icn-mesh/internal/dag"
	"icn-mesh/internal/identity"
	"icn-mesh/internal/mana"
	"icn-mesh/internal/meshnet"
	"icn-mesh/internal/policy"
	"icn-mesh/internal/reputation"
	"icn-mesh/internal/runtime"
	"icn-mesh/mesh"
	"icn-mesh/pkg/config"
	"icn-mesh/pkg/utils"
)

var (
	nodeOnce    sync.Once
	nodeErr     error
	node        *runtime.Context
	manager     *mesh.Manager
	regenerator *mana.Regenerator
)

// initNode lazily composes a RuntimeContext from the loaded configuration,
// a sync.Once initializer building a RuntimeContext instead of reaching
// for a package-level ledger singleton.
func initNode() error {
	nodeOnce.Do(func() {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			nodeErr = fmt.Errorf("load config: %w", err)
			return
		}

		if level := utils.EnvOrDefault(utils.EnvLogLevel, cfg.Logging.Level); level != "" {
			if lvl, err := log.ParseLevel(level); err == nil {
				log.SetLevel(lvl)
			} else {
				log.Warnf("ignoring unknown log level %q", level)
			}
		}

		var signer identity.Signer
		if cfg.Identity.KeystorePath != "" {
			passphrase := utils.EnvOrDefault(utils.EnvKeystorePassphrase, cfg.Identity.Passphrase)
			ks, err := identity.OpenKeystore(cfg.Identity.KeystorePath, passphrase)
			if err != nil {
				ks, err = identity.GenerateKeystore(cfg.Identity.KeystorePath, passphrase)
				if err != nil {
					nodeErr = fmt.Errorf("open or generate keystore: %w", err)
					return
				}
			}
			signer = ks
		} else {
			signer, err = identity.NewMemorySigner()
			if err != nil {
				nodeErr = fmt.Errorf("new memory signer: %w", err)
				return
			}
		}

		var dagStore dag.Store
		if cfg.DAG.Persist && cfg.DAG.StorePath != "" {
			ps, err := dag.OpenPersistentStore(cfg.DAG.StorePath)
			if err != nil {
				nodeErr = fmt.Errorf("open dag store: %w", err)
				return
			}
			dagStore = ps
		} else {
			dagStore = dag.NewMemoryStore()
		}

		var ledger mana.Ledger
		if cfg.Mana.Persist && cfg.Mana.StorePath != "" {
			pl, err := mana.OpenPersistentLedger(cfg.Mana.StorePath)
			if err != nil {
				nodeErr = fmt.Errorf("open mana ledger: %w", err)
				return
			}
			ledger = pl
		} else {
			ledger = mana.NewMemoryLedger()
		}

		var rep reputation.Store
		if cfg.Reputation.Persist && cfg.Reputation.StorePath != "" {
			pr, err := reputation.OpenPersistentStore(cfg.Reputation.StorePath)
			if err != nil {
				nodeErr = fmt.Errorf("open reputation store: %w", err)
				return
			}
			rep = pr
		} else {
			rep = reputation.NewMemoryStore()
		}

		enforcer := policy.NewEnforcer()
		enforcer.RequireCredentialProof = cfg.Policy.RequireCredentialProof

		var network meshnet.Service
		if cfg.Network.ListenAddr != "" {
			svc, err := meshnet.NewLibP2PService(meshnet.LibP2PConfig{
				ListenAddr:     cfg.Network.ListenAddr,
				BootstrapPeers: cfg.Network.BootstrapPeers,
				DiscoveryTag:   cfg.Network.DiscoveryTag,
			}, meshnet.GobCodec{}, signer)
			if err != nil {
				nodeErr = fmt.Errorf("start libp2p service: %w", err)
				return
			}
			network = svc
		} else {
			network = meshnet.NewHub().Join(meshnet.PeerID(signer.DID().String()))
		}

		built := runtime.Context{
			Signer:     signer,
			DAG:        dagStore,
			Mana:       ledger,
			Reputation: rep,
			Network:    network,
			Policy:     enforcer,
		}
		if cfg.Production {
			node, err = runtime.NewProductionContext(built)
			if err != nil {
				nodeErr = fmt.Errorf("compose production runtime context: %w", err)
				return
			}
		} else {
			node = runtime.NewTestContext(built)
		}

		regenPolicy := mana.DefaultRegenerationPolicy()
		if cfg.Mana.RegenIntervalMS > 0 {
			regenPolicy.Interval = msDuration(cfg.Mana.RegenIntervalMS)
		}
		if cfg.Mana.RegenAmount > 0 {
			regenPolicy.Rate = cfg.Mana.RegenAmount
		}
		regenerator = mana.NewRegenerator(node.Mana, regenPolicy)

		mgrCfg := mesh.DefaultConfig()
		if cfg.Mesh.BidWindowMS > 0 {
			mgrCfg.BidWindow = msDuration(cfg.Mesh.BidWindowMS)
		}
		if cfg.Mesh.DefaultExecWindowMS > 0 {
			mgrCfg.DefaultExecWindow = msDuration(cfg.Mesh.DefaultExecWindowMS)
		}
		if cfg.Mesh.WeightPrice > 0 || cfg.Mesh.WeightReputation > 0 || cfg.Mesh.WeightResources > 0 {
			mgrCfg.Weights = mesh.ScoreWeights{
				Price:      cfg.Mesh.WeightPrice,
				Reputation: cfg.Mesh.WeightReputation,
				Resources:  cfg.Mesh.WeightResources,
			}
		}
		manager = mesh.NewManager(mgrCfg, node.Signer, node.DAG, node.Mana, node.Reputation, node.Network, enforcer, meshnet.GobCodec{})
	})
	return nodeErr
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func decodeCID(s string) (dag.CID, error) {
	return dag.ParseCID(s)
}
