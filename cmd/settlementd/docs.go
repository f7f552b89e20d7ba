package main

//go:generate swag init -g cmd/settlementd/main.go -o docs

// @title           StratFlow Settlement API
// @version         0.1.0
// @description     Execution verification, disputes and reward streaming.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
