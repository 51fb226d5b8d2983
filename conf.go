package main

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/viper"
)

var conf *Conf

type Conf struct {
	App struct {
		Version string `toml:"version"`
		Title   string `toml:"title"`
	} `toml:"app"`
	Output struct {
		Directory      string `toml:"directory"`
		LogDir         string `toml:"logDir"`
		OutputTerminal bool   `toml:"outputTerminal"`
	} `toml:"output"`
	Proxy struct {
		Listen string `toml:"listen"`
	} `toml:"proxy"`
	Source struct {
		Archive       string `toml:"archive"`
		FeatureBudget int    `toml:"featureBudget"`
	} `toml:"source"`
	Task struct {
		Workers   int `toml:"workers"`
		Timedelay int `toml:"timedelay"`
		BufSize   int `toml:"bufSize"`
	} `toml:"task"`
	BreakPoint struct {
		SaveFilePath string `toml:"saveFilePath"`
	} `toml:"breakPoint"`
	Style struct {
		MinLineWidth float64 `toml:"minLineWidth"`
		WidthStops   []struct {
			Zoom  float64 `toml:"zoom"`
			Width float64 `toml:"width"`
		} `toml:"widthStops"`
		Lines []struct {
			Color           string    `toml:"color"`
			Suffix          string    `toml:"suffix"`
			WidthFraction   float64   `toml:"widthFraction"`
			Dash            []float64 `toml:"dash"`
			Alpha           float64   `toml:"alpha"`
			StartZoom       float64   `toml:"startZoom"`
			EndZoom         float64   `toml:"endZoom"`
			ExtensionFactor float64   `toml:"extensionFactor"`
			DelWidthFactor  float64   `toml:"delWidthFactor"`
		} `toml:"lines"`
	} `toml:"style"`
	Tm struct {
		Name       string   `toml:"name"`
		Min        int      `toml:"min"`
		Max        int      `toml:"max"`
		Format     string   `toml:"format"`
		URL        string   `toml:"url"`
		Subdomains []string `toml:"subdomains"`
	} `toml:"tm"`
	Lrs []struct {
		Min     int    `toml:"min"`
		Max     int    `toml:"max"`
		Geojson string `toml:"geojson"`
	} `toml:"lrs"`
}

// StyleConfig 由配置构造绘制样式, 填充缺省值
func (c *Conf) StyleConfig() *StyleConfig {
	sc := &StyleConfig{MinLineWidth: c.Style.MinLineWidth}
	for _, s := range c.Style.WidthStops {
		sc.LineWidthStops = append(sc.LineWidthStops, WidthStop{Zoom: s.Zoom, Width: s.Width})
	}
	for _, l := range c.Style.Lines {
		ls := LineStyle{
			Color:               l.Color,
			LayerSuffix:         l.Suffix,
			WidthFraction:       l.WidthFraction,
			DashArray:           l.Dash,
			Alpha:               l.Alpha,
			StartZoom:           l.StartZoom,
			EndZoom:             l.EndZoom,
			LineExtensionFactor: l.ExtensionFactor,
			DelWidthFactor:      l.DelWidthFactor,
		}
		if ls.WidthFraction <= 0 {
			ls.WidthFraction = 1
		}
		if ls.Alpha <= 0 {
			ls.Alpha = 1
		}
		if ls.EndZoom <= 0 {
			ls.EndZoom = math.Inf(1)
		}
		sc.LineStyles = append(sc.LineStyles, ls)
	}
	return sc
}

// InitConf 初始化配置
func InitConf(cfgFile string) {
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("config file(%s) not exist", cfgFile)
		os.Exit(1)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		fmt.Printf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	// 设置默认值
	viper.SetDefault("app.version", "v 0.1.0")
	viper.SetDefault("app.title", "Boundary Tile Fixer")
	viper.SetDefault("output.directory", "output")
	viper.SetDefault("proxy.listen", "127.0.0.1:19876")
	viper.SetDefault("source.featureBudget", DefaultFeatureBudget)
	viper.SetDefault("style.minLineWidth", DefaultMinLineWidth)
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("task.timedelay", 0)
	viper.SetDefault("task.bufSize", 64)

	err = viper.Unmarshal(&conf)
	if err != nil {
		panic("配置文件解析失败")
	}
}
