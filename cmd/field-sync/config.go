package main

import (
	"io"
	"net"

	"github.com/diwise/field-sync/internal/pkg/application/syncengine"
)

type FlagType int
type FlagMap map[FlagType]string

const (
	listenAddress FlagType = iota
	servicePort

	configPath
	opaPath
	storeDSN
	allowedOrigins

	logFormat
	startOffline
)

type AppConfig struct {
	engineConfig io.ReadCloser
	opaConfig    io.ReadCloser

	cfg        *syncengine.Config
	listener   net.Listener
	publicPort string
}
