package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	hf         bool
	configPath string
	logLevel   string
	runMode    string
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", "./conf/conf.toml", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")
	flag.StringVar(&runMode, "m", "serve", "run mode: serve(代理服务) or task(批量修正)")
	// 改变默认的 Usage, 覆盖 flag 包的默认实现
	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}
	if runMode != "serve" && runMode != "task" {
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", runMode)
		flag.Usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `tilefix version: tilefix/v0.1.0
Usage: tilefix [-h] [-c filename] [-l logLevel] [-m mode]
`)
	flag.PrintDefaults()
}
