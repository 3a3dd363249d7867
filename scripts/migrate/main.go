// Command migrate creates the relational tables and the Scylla projection
// tables. With -drop it removes the projection tables instead.
package main

import (
	"flag"
	"log"

	"github.com/mahaj/dupahar-chat/pkg/config"
	"github.com/mahaj/dupahar-chat/pkg/conversations"
	"github.com/mahaj/dupahar-chat/pkg/db"
	"github.com/mahaj/dupahar-chat/pkg/snowflake"
	"github.com/mahaj/dupahar-chat/pkg/store"
)

func main() {
	drop := flag.Bool("drop", false, "drop the projection tables")
	skipScylla := flag.Bool("skip-scylla", false, "only migrate the relational store")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if !*drop {
		gdb, err := db.OpenSQL(db.SQLOptions{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Production: cfg.Production()})
		if err != nil {
			log.Fatal(err)
		}
		node, err := snowflake.NewNode(cfg.API.NodeID)
		if err != nil {
			log.Fatal(err)
		}
		if err := store.New(gdb, node).Migrate(); err != nil {
			log.Fatal(err)
		}
		log.Printf("%s tables migrated", cfg.Database.Driver)
	}

	if *skipScylla {
		return
	}
	if err := db.EnsureKeyspace(cfg.Scylla.Hosts, cfg.Scylla.Keyspace); err != nil {
		log.Fatal(err)
	}
	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	stmts := conversations.Schema()
	if *drop {
		stmts = conversations.DropSchema()
	}
	if err := session.ApplySchema(stmts); err != nil {
		log.Fatal(err)
	}
	log.Printf("keyspace %s: %d statements applied", cfg.Scylla.Keyspace, len(stmts))
}
