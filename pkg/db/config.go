package db

import "time"

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

func (c Config) connMaxLifetime() time.Duration {
	if c.ConnMaxLifetime <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

func (c Config) connMaxIdleTime() time.Duration {
	if c.ConnMaxIdleTime <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ConnMaxIdleTime) * time.Second
}

func (c Config) maxIdleConn() int {
	if c.MaxIdleConn <= 0 {
		return 5
	}
	return c.MaxIdleConn
}

func (c Config) maxOpenConn() int {
	if c.MaxOpenConn <= 0 {
		return 25
	}
	return c.MaxOpenConn
}
