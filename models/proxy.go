package models

// Proxy описывает SOCKS5-прокси, через который ходит транспорт.
type Proxy struct {
	IP       string `yaml:"ip" json:"ip"`
	Port     int    `yaml:"port" json:"port"`
	Login    string `yaml:"login" json:"login"`
	Password string `yaml:"password" json:"password"`
}

// Enabled сообщает, задан ли прокси вообще.
func (p Proxy) Enabled() bool {
	return p.IP != "" && p.Port > 0
}
