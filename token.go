package mqttc

import (
	"context"
	"errors"
	"sync"
)

// Token represents an asynchronous operation that can be waited on.
//
// Tokens are returned by Publish, PublishMulti and Unsubscribe. Subscribe
// returns a SubscribeToken, which also reports per-filter results.
// They provide both blocking (Wait) and non-blocking (Done + Error) patterns
// for handling operation completion.
//
// Example (blocking wait):
//
//	token := client.Publish("topic", []byte("data"), mqttc.WithQoS(1))
//	if err := token.Wait(context.Background()); err != nil {
//	    log.Printf("Operation failed: %v", err)
//	}
//
// Example (non-blocking with select):
//
//	token := client.Publish("topic", []byte("data"), mqttc.WithQoS(1))
//	select {
//	case <-token.Done():
//	    if err := token.Error(); err != nil {
//	        log.Printf("Failed: %v", err)
//	    }
//	case <-time.After(5 * time.Second):
//	    log.Println("Timeout")
//	}
//
// Example (with context timeout):
//
//	token := client.Subscribe("topic", 1, handler)
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := token.Wait(ctx); err != nil {
//	    log.Printf("Subscribe failed or timed out: %v", err)
//	}
type Token interface {
	// Wait blocks until the operation completes or the context is cancelled.
	// It returns nil if successful, or the error that ended the operation.
	Wait(ctx context.Context) error

	// Done returns a channel that closes when the operation is complete.
	// This allows the token to be used in select statements.
	Done() <-chan struct{}

	// Error returns the error if finished, mostly for use with Done().
	Error() error
}

// token is the internal implementation of Token.
type token struct {
	done chan struct{}
	err  error
	once sync.Once
}

// newToken creates a new token.
func newToken() *token {
	return &token{
		done: make(chan struct{}),
	}
}

// Wait blocks until the operation completes or the context is cancelled.
func (t *token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that closes when the operation is complete.
func (t *token) Done() <-chan struct{} {
	return t.done
}

// Error returns the error if the operation has completed.
func (t *token) Error() error {
	return t.err
}

// complete marks the token as complete with the given error.
// This can only be called once; subsequent calls are ignored.
func (t *token) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// SubscriptionResult is the outcome of one topic filter in a SUBSCRIBE.
type SubscriptionResult struct {
	Filter    string
	Requested QoS

	// Granted is the QoS the server granted. It may be lower than
	// Requested. It is meaningless when Err is set.
	Granted QoS

	// Err is a *SubscriptionError when the server rejected the filter.
	Err error
}

// SubscribeToken is returned by Subscribe and SubscribeMultiple.
//
// A rejected filter does not affect the other filters of the same request.
// Error returns the rejections joined together, so
// errors.Is(err, ErrSubscriptionRejected) reports whether any filter failed.
//
// Example:
//
//	tok := client.SubscribeMultiple([]mqttc.Subscription{
//	    {Filter: "a/b", QoS: mqttc.AtLeastOnce, Handler: h1},
//	    {Filter: "$SYS/#", QoS: mqttc.AtMostOnce, Handler: h2},
//	})
//	_ = tok.Wait(ctx)
//	for _, r := range tok.Results() {
//	    if r.Err != nil {
//	        log.Printf("%s rejected", r.Filter)
//	    }
//	}
type SubscribeToken interface {
	Token

	// Results returns one entry per requested filter, in request order.
	// It returns nil until the token is done.
	Results() []SubscriptionResult
}

type subscribeToken struct {
	*token
	results []SubscriptionResult
}

func newSubscribeToken() *subscribeToken {
	return &subscribeToken{token: newToken()}
}

func (t *subscribeToken) Results() []SubscriptionResult {
	select {
	case <-t.done:
		return t.results
	default:
		return nil
	}
}

// resolve records the SUBACK results and completes the token.
func (t *subscribeToken) resolve(results []SubscriptionResult) {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	t.once.Do(func() {
		t.results = results
		t.err = errors.Join(errs...)
		close(t.done)
	})
}

// joinTokens returns a Token that completes once every token has completed.
// Its error joins the individual errors.
func joinTokens(tokens []Token) Token {
	joined := newToken()
	go func() {
		var errs []error
		for _, t := range tokens {
			<-t.Done()
			if err := t.Error(); err != nil {
				errs = append(errs, err)
			}
		}
		joined.complete(errors.Join(errs...))
	}()
	return joined
}
