// Package events publishes notifications about submitted transfers so other
// services can follow a transaction without polling the chat history.
package events
